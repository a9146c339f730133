package factbox

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// EntityStatus is the compliance-score snapshot composed by GetEntityStatus.
type EntityStatus struct {
	Entity          *domain.Entity
	ActiveWorkflows int
	Licenses        []*domain.License
	ComplianceScore int // 0-100
}

// FactBox is the trusted read surface for Entity, License, and
// Regulatory-Rule data (spec.md section 4.3).
type FactBox struct {
	store    *Store
	cache    *Cache
	auditLog *audit.Log
	clock    clock.Clock
	logger   *zap.Logger
}

func New(store *Store, cache *Cache, auditLog *audit.Log, clk clock.Clock, logger *zap.Logger) *FactBox {
	return &FactBox{store: store, cache: cache, auditLog: auditLog, clock: clk, logger: logger}
}

func (f *FactBox) GetEntity(ctx context.Context, entityID string) (*domain.Entity, error) {
	if e, ok := f.cache.GetEntity(ctx, entityID); ok {
		return e, nil
	}
	e, err := f.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, occamerr.Transient("factbox.GetEntity", err)
	}
	if e == nil {
		return nil, occamerr.NotFound("factbox.GetEntity", fmt.Errorf("entity %s not found", entityID))
	}
	f.cache.PutEntity(ctx, e)
	return e, nil
}

func (f *FactBox) GetLicense(ctx context.Context, licenseID string) (*domain.License, error) {
	if l, ok := f.cache.GetLicense(ctx, licenseID); ok {
		return l, nil
	}
	l, err := f.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, occamerr.Transient("factbox.GetLicense", err)
	}
	if l == nil {
		return nil, occamerr.NotFound("factbox.GetLicense", fmt.Errorf("license %s not found", licenseID))
	}
	f.cache.PutLicense(ctx, l)
	return l, nil
}

func (f *FactBox) GetLicensesByEntity(ctx context.Context, entityID string) ([]*domain.License, error) {
	licenses, err := f.store.GetLicensesByEntity(ctx, entityID)
	if err != nil {
		return nil, occamerr.Transient("factbox.GetLicensesByEntity", err)
	}
	return licenses, nil
}

// GetExpiringLicenses returns active licenses with 0 < days-to-expiry <=
// withinDays, per spec.md section 4.3.
func (f *FactBox) GetExpiringLicenses(ctx context.Context, withinDays int) ([]*domain.License, error) {
	all, err := f.store.GetExpiringLicenses(ctx)
	if err != nil {
		return nil, occamerr.Transient("factbox.GetExpiringLicenses", err)
	}
	now := f.clock.Now().UTC()
	var expiring []*domain.License
	for _, l := range all {
		if l.IsExpiringWithin(now, withinDays) {
			expiring = append(expiring, l)
		}
	}
	return expiring, nil
}

// GetEntityStatus composes entity + licenses into a compliance-score
// snapshot: score = fraction of non-expired active licenses * 100, rounded.
func (f *FactBox) GetEntityStatus(ctx context.Context, entityID string, activeWorkflows int) (*EntityStatus, error) {
	entity, err := f.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	licenses, err := f.GetLicensesByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	score := 100
	if len(licenses) > 0 {
		now := f.clock.Now().UTC()
		active := 0
		for _, l := range licenses {
			if l.Status == domain.LicenseActive && l.ExpiryDate.After(now) {
				active++
			}
		}
		score = int(math.Round(float64(active) / float64(len(licenses)) * 100))
	}

	return &EntityStatus{
		Entity:          entity,
		ActiveWorkflows: activeWorkflows,
		Licenses:        licenses,
		ComplianceScore: score,
	}, nil
}

// VerifyKYC reports whether the entity's KYC status is verified.
func (f *FactBox) VerifyKYC(ctx context.Context, entityID string) (bool, error) {
	entity, err := f.GetEntity(ctx, entityID)
	if err != nil {
		return false, err
	}
	return entity.KYCStatus == domain.KYCVerified, nil
}

func (f *FactBox) GetRegulatoryRules(ctx context.Context, regulation, jurisdiction string) ([]*domain.RegulatoryRule, error) {
	rules, err := f.store.GetRegulatoryRules(ctx, regulation, jurisdiction)
	if err != nil {
		return nil, occamerr.Transient("factbox.GetRegulatoryRules", err)
	}
	now := f.clock.Now().UTC()
	var applicable []*domain.RegulatoryRule
	for _, r := range rules {
		if r.AppliesAt(now) {
			applicable = append(applicable, r)
		}
	}
	return applicable, nil
}

// SaveEntity writes through to Postgres, invalidates the cache, and emits
// an audit event before returning — spec.md section 4.3's write-path rule.
func (f *FactBox) SaveEntity(ctx context.Context, e *domain.Entity) error {
	e.UpdatedAt = f.clock.Now().UTC()
	if err := f.store.SaveEntity(ctx, e); err != nil {
		return occamerr.Transient("factbox.SaveEntity", err)
	}
	f.cache.InvalidateEntity(ctx, e.EntityID)
	f.emit(ctx, "factbox.save_entity", e.EntityID, nil)
	return nil
}

// SaveLicense writes through to Postgres, invalidates the cache, and emits
// an audit event before returning.
func (f *FactBox) SaveLicense(ctx context.Context, l *domain.License) error {
	if err := l.Validate(); err != nil {
		return occamerr.Validation("factbox.SaveLicense", err)
	}
	if err := f.store.SaveLicense(ctx, l); err != nil {
		return occamerr.Transient("factbox.SaveLicense", err)
	}
	f.cache.InvalidateLicense(ctx, l.LicenseID)
	f.emit(ctx, "factbox.save_license", l.EntityID, map[string]any{"license_id": l.LicenseID, "status": l.Status})
	return nil
}

func (f *FactBox) emit(ctx context.Context, action, entityID string, payload map[string]any) {
	if f.auditLog == nil {
		return
	}
	event := &domain.AuditEvent{
		EntityID: &entityID,
		Actor:    "factbox",
		Action:   action,
		Severity: domain.SeverityInfo,
		Status:   domain.EventSuccess,
		Payload:  payload,
	}
	if err := f.auditLog.Log(ctx, event); err != nil {
		f.logger.Error("factbox failed to emit audit event", zap.String("action", action), zap.Error(err))
	}
}
