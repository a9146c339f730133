package domain

import (
	"fmt"
	"time"
)

// LicenseStatus is the lifecycle state of a License (spec.md section 3).
type LicenseStatus string

const (
	LicensePending   LicenseStatus = "pending"
	LicenseActive    LicenseStatus = "active"
	LicenseExpired   LicenseStatus = "expired"
	LicenseSuspended LicenseStatus = "suspended"
)

// legalLicenseTransitions encodes: pending->active, active->expired|suspended.
var legalLicenseTransitions = map[LicenseStatus][]LicenseStatus{
	LicensePending: {LicenseActive},
	LicenseActive:  {LicenseExpired, LicenseSuspended},
}

// License is owned by FactBox. Invariant: ExpiryDate > IssueDate.
type License struct {
	LicenseID      string        `json:"license_id" db:"license_id"`
	EntityID       string        `json:"entity_id" db:"entity_id"`
	Name           string        `json:"name" db:"name"`
	Type           string        `json:"type" db:"type"`
	Number         string        `json:"number" db:"number"`
	IssuingAuthority string      `json:"issuing_authority" db:"issuing_authority"`
	Status         LicenseStatus `json:"status" db:"status"`
	IssueDate      time.Time     `json:"issue_date" db:"issue_date"`
	ExpiryDate     time.Time     `json:"expiry_date" db:"expiry_date"`
}

// Validate enforces the expiry > issue invariant.
func (l *License) Validate() error {
	if !l.ExpiryDate.After(l.IssueDate) {
		return fmt.Errorf("license %s: expiry %s must be after issue %s", l.LicenseID, l.ExpiryDate, l.IssueDate)
	}
	return nil
}

// CanTransition reports whether moving from the License's current status to
// target is a legal transition per spec.md 4.6-style state rules.
func (l *License) CanTransition(target LicenseStatus) bool {
	for _, allowed := range legalLicenseTransitions[l.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// DaysToExpiry returns the number of whole days between now and ExpiryDate,
// truncated toward zero: 0 within a day either side of ExpiryDate, and
// negative only once ExpiryDate is at least a full day past.
func (l *License) DaysToExpiry(now time.Time) int {
	return int(l.ExpiryDate.Sub(now).Hours() / 24)
}

// IsExpiringWithin reports whether the license is active and will expire in
// (0, withinDays] days from now — the window FactBox.GetExpiringLicenses
// and the Status engine's renewal sweep both use.
func (l *License) IsExpiringWithin(now time.Time, withinDays int) bool {
	if l.Status != LicenseActive {
		return false
	}
	d := l.DaysToExpiry(now)
	return d > 0 && d <= withinDays
}
