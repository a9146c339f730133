// Package governance implements the Governance component (spec.md section
// 4.4): policy-gating of monetary and rate-sensitive actions, grounded on
// the teacher's internal/domain/aml.go threshold-table style.
package governance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/otrix/occam-agents/internal/config"
)

// Thresholds is the Governance component's policy configuration, adapted
// from the teacher's SuspiciousActivityThresholds literal struct.
type Thresholds struct {
	MaxTransactionAmount      decimal.Decimal
	DailySpendLimit           decimal.Decimal
	ApprovalThreshold         decimal.Decimal
	RateLimitWindow           time.Duration
	MaxTransactionsPerWindow  int
	ApprovalExpiry            time.Duration
	RapidTransactionCount     int
	RapidTransactionWindow    time.Duration
	AnomalyMeanMultiplier     float64
}

func ThresholdsFromConfig(cfg config.GovernanceConfig) (Thresholds, error) {
	maxAmount, err := decimal.NewFromString(cfg.MaxTransactionAmount)
	if err != nil {
		return Thresholds{}, err
	}
	dailyLimit, err := decimal.NewFromString(cfg.DailySpendLimit)
	if err != nil {
		return Thresholds{}, err
	}
	approvalThreshold, err := decimal.NewFromString(cfg.ApprovalThreshold)
	if err != nil {
		return Thresholds{}, err
	}
	return Thresholds{
		MaxTransactionAmount:     maxAmount,
		DailySpendLimit:          dailyLimit,
		ApprovalThreshold:        approvalThreshold,
		RateLimitWindow:          time.Duration(cfg.RateLimitWindowMinutes) * time.Minute,
		MaxTransactionsPerWindow: cfg.MaxTransactionsPerWindow,
		ApprovalExpiry:           time.Duration(cfg.ApprovalExpiryHours) * time.Hour,
		RapidTransactionCount:    cfg.RapidTransactionCount,
		RapidTransactionWindow:   time.Duration(cfg.RapidTransactionWindowMin) * time.Minute,
		AnomalyMeanMultiplier:    cfg.AnomalyMeanMultiplier,
	}, nil
}
