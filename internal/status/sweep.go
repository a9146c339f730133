package status

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/domain"
)

// RunRenewalSweep is the periodic task of spec.md section 4.8: for every
// license expiring within the warning window, emit a warning alert; within
// the critical window, emit a critical alert. Exactly-once delivery per
// (license-id, alert-class, window-bucket) is enforced by consulting the
// audit log for a prior delivery receipt before sending.
func (e *Engine) RunRenewalSweep(ctx context.Context) error {
	now := e.clock.Now().UTC()

	warning, err := e.factBox.GetExpiringLicenses(ctx, e.cfg.RenewalWarningDays)
	if err != nil {
		return err
	}
	for _, l := range warning {
		if l.DaysToExpiry(now) <= e.cfg.RenewalCriticalDays {
			continue // escalates to critical below instead
		}
		if err := e.alertOnce(ctx, l, domain.AlertRenewalWarning, domain.SeverityWarning, now); err != nil {
			e.logger.Error("renewal warning alert failed", zap.String("license_id", l.LicenseID), zap.Error(err))
		}
	}

	critical, err := e.factBox.GetExpiringLicenses(ctx, e.cfg.RenewalCriticalDays)
	if err != nil {
		return err
	}
	for _, l := range critical {
		if err := e.alertOnce(ctx, l, domain.AlertRenewalCritical, domain.SeverityCritical, now); err != nil {
			e.logger.Error("renewal critical alert failed", zap.String("license_id", l.LicenseID), zap.Error(err))
		}
	}
	return nil
}

// receiptAction names the audit event that marks (license, alert-class,
// window-bucket) as already delivered.
func receiptAction(licenseID string, kind domain.AlertKind, bucket string) string {
	return fmt.Sprintf("status.alert_receipt.%s.%s.%s", licenseID, kind, bucket)
}

func (e *Engine) alertOnce(ctx context.Context, l *domain.License, kind domain.AlertKind, severity domain.Severity, now time.Time) error {
	bucket := domain.WindowBucket(now)
	action := receiptAction(l.LicenseID, kind, bucket)

	existing, err := e.auditLog.Query(ctx, "status-engine", domain.AuditEventFilter{Action: action, Limit: 1})
	if err != nil {
		return fmt.Errorf("status: check alert receipt: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	alertID := uuid.NewString()
	msg := AlertMessage{
		AlertID:   alertID,
		EntityID:  l.EntityID,
		LicenseID: l.LicenseID,
		Kind:      string(kind),
		Severity:  string(severity),
		Title:     fmt.Sprintf("license %s (%s) expires in %d days", l.Name, l.LicenseID, l.DaysToExpiry(now)),
		Body:      fmt.Sprintf("entity %s, license %s, expiry %s", l.EntityID, l.Number, l.ExpiryDate.Format(time.RFC3339)),
	}
	delivered := deliverAll(ctx, e.channels, msg, e.logger)

	licenseID, entityID := l.LicenseID, l.EntityID
	event := &domain.AuditEvent{
		EntityID: &entityID,
		Actor:    "status-engine",
		Action:   action,
		Severity: severity,
		Status:   domain.EventSuccess,
		Payload: map[string]any{
			"alert_id":      alertID,
			"license_id":    licenseID,
			"kind":          kind,
			"delivered_via": delivered,
		},
	}
	if logErr := e.auditLog.Log(ctx, event); logErr != nil {
		return fmt.Errorf("status: record alert receipt: %w", logErr)
	}
	return nil
}

// Scheduler drives RunRenewalSweep on a cron schedule, grounded on the
// pack's robfig/cron/v3 usage for periodic background tasks.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	logger *zap.Logger
}

// NewScheduler builds a Scheduler around engine; call Start to register the
// renewal sweep on its cron interval (spec.md section 4.8 default: hourly).
func NewScheduler(engine *Engine, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		engine: engine,
		logger: logger,
	}
}

// Start registers the sweep and begins the cron scheduler's own goroutine.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.engine.RunRenewalSweep(ctx); err != nil {
			s.logger.Error("renewal sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("status: schedule renewal sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
