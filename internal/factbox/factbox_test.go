package factbox

import (
	"math"
	"testing"
	"time"

	"github.com/otrix/occam-agents/internal/domain"
)

func TestIsExpiringWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &domain.License{Status: domain.LicenseActive, ExpiryDate: now.AddDate(0, 0, 10)}
	if !l.IsExpiringWithin(now, 30) {
		t.Fatal("expected license expiring in 10 days to be within a 30-day window")
	}
	if l.IsExpiringWithin(now, 5) {
		t.Fatal("expected license expiring in 10 days to be outside a 5-day window")
	}
	already := &domain.License{Status: domain.LicenseActive, ExpiryDate: now.AddDate(0, 0, -1)}
	if already.IsExpiringWithin(now, 30) {
		t.Fatal("an already-expired license must not count as expiring")
	}
	suspended := &domain.License{Status: domain.LicenseSuspended, ExpiryDate: now.AddDate(0, 0, 10)}
	if suspended.IsExpiringWithin(now, 30) {
		t.Fatal("only active licenses should count toward expiring")
	}
}

func TestComplianceScoreRounding(t *testing.T) {
	licenses := []*domain.License{
		{Status: domain.LicenseActive},
		{Status: domain.LicenseActive},
		{Status: domain.LicenseExpired},
	}
	active := 0
	for _, l := range licenses {
		if l.Status == domain.LicenseActive {
			active++
		}
	}
	score := int(math.Round((float64(active) / float64(len(licenses))) * 100))
	if score != 67 {
		t.Fatalf("expected 67, got %d", score)
	}
}
