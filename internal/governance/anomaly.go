package governance

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnomalySeverity classifies how far an anomaly check deviates from normal.
type AnomalySeverity string

const (
	AnomalyLow    AnomalySeverity = "low"
	AnomalyMedium AnomalySeverity = "medium"
	AnomalyHigh   AnomalySeverity = "high"
)

// Anomaly is one detected-but-not-blocking signal (spec.md section 4.4).
type Anomaly struct {
	Rule     string
	Severity AnomalySeverity
	Detail   string
}

// detectAnomalies runs the three anomaly rules against history + the
// incoming transaction. Detecting, never blocking by itself — only
// high-severity anomalies escalate to requiresApproval.
func detectAnomalies(t Transaction, history []HistoryEntry, rapidCount int, rapidWindow time.Duration) []Anomaly {
	var anomalies []Anomaly

	if mean := rollingMean(history); !mean.IsZero() {
		threeX := mean.Mul(decimal.NewFromInt(3))
		if t.Amount.GreaterThan(threeX) {
			multiplier := t.Amount.Div(mean)
			sev := AnomalyMedium
			if multiplier.GreaterThanOrEqual(decimal.NewFromInt(5)) {
				sev = AnomalyHigh
			}
			anomalies = append(anomalies, Anomaly{
				Rule:     "amount-exceeds-rolling-mean",
				Severity: sev,
				Detail:   "transaction amount exceeds 3x the rolling mean",
			})
		}
	}

	rapidCutoff := t.At.Add(-rapidWindow)
	count := 1 // include the incoming transaction
	for _, h := range history {
		if h.At.After(rapidCutoff) {
			count++
		}
	}
	if count >= rapidCount {
		anomalies = append(anomalies, Anomaly{
			Rule:     "rapid-transaction-count",
			Severity: AnomalyHigh,
			Detail:   "transaction count in window meets or exceeds the rapid-transaction threshold",
		})
	}

	for _, h := range history {
		if h.Amount.Equal(t.Amount) && t.At.Sub(h.At) <= 5*time.Minute && t.At.Sub(h.At) >= 0 {
			anomalies = append(anomalies, Anomaly{
				Rule:     "duplicate-amount",
				Severity: AnomalyMedium,
				Detail:   "same amount as a transaction within the last 5 minutes",
			})
			break
		}
	}

	return anomalies
}

func rollingMean(history []HistoryEntry) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, h := range history {
		sum = sum.Add(h.Amount)
	}
	return sum.Div(decimal.NewFromInt(int64(len(history))))
}

func anyHighSeverity(anomalies []Anomaly) bool {
	for _, a := range anomalies {
		if a.Severity == AnomalyHigh {
			return true
		}
	}
	return false
}
