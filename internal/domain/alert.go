package domain

import "time"

// AlertKind enumerates the Status/Alert Engine's alert types.
type AlertKind string

const (
	AlertRenewalWarning  AlertKind = "renewal-warning"
	AlertRenewalCritical AlertKind = "renewal-critical"
	AlertAnomaly         AlertKind = "anomaly"
	AlertSLABreach       AlertKind = "sla-breach"
	AlertExpiry          AlertKind = "expiry"
)

// Alert is a time-based notification issued by the Status/Alert Engine.
type Alert struct {
	AlertID        string         `json:"alert_id" db:"alert_id"`
	EntityID       string         `json:"entity_id" db:"entity_id"`
	LicenseID      *string        `json:"license_id,omitempty" db:"license_id"`
	Severity       Severity       `json:"severity" db:"severity"`
	Kind           AlertKind      `json:"kind" db:"kind"`
	Payload        map[string]any `json:"payload,omitempty" db:"-"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	DeliveredVia   []string       `json:"delivered_via,omitempty" db:"-"`
	Suppressed     bool           `json:"suppressed" db:"suppressed"`
}

// WindowBucket buckets "now" into a stable string for exactly-once alert
// delivery per (license-id, alert-class, window-bucket), per spec.md 4.8.
// Renewal sweeps run hourly so the bucket is the calendar day: a warning or
// critical alert already sent today for this license is not resent even if
// the sweep runs again within the same day.
func WindowBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
