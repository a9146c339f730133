package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/crypto"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// ledgerStore is the persistence surface Log needs, narrowed from *Ledger so
// tests can exercise the real trail/sign/verify machinery above without a
// Postgres-backed ledger.
type ledgerStore interface {
	Append(ctx context.Context, event *domain.AuditEvent, signature string) error
	Query(ctx context.Context, filter domain.AuditEventFilter) ([]*domain.AuditEvent, error)
	SignatureFor(ctx context.Context, eventID string) (string, error)
	RecordAccess(ctx context.Context, access domain.AuditAccessLog) error
}

// Log is the Audit Log component (spec.md section 4.1): the single
// append-only system of record every other component writes through.
type Log struct {
	ledger    ledgerStore
	search    *SearchIndex
	archive   *Archive
	encryptor *crypto.FieldEncryptor
	clock     clock.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewLog(ledger ledgerStore, search *SearchIndex, archive *Archive, encryptor *crypto.FieldEncryptor, clk clock.Clock, logger *zap.Logger) *Log {
	return &Log{
		ledger:    ledger,
		search:    search,
		archive:   archive,
		encryptor: encryptor,
		clock:     clk,
		logger:    logger,
		tracer:    otel.Tracer("occam/audit"),
	}
}

// StartTrail opens a new trace for a workflow, minting a trace-id that
// every subsequent audit event for that workflow must carry so events
// across the six agents and three subsystems line up under one timeline.
func (l *Log) StartTrail(ctx context.Context, workflowID string) (context.Context, string) {
	ctx, span := l.tracer.Start(ctx, "workflow.trail")
	traceID := span.SpanContext().TraceID().String()
	if traceID == "" || traceID == "00000000000000000000000000000000" {
		traceID = uuid.NewString()
	}
	return ctx, traceID
}

// Log appends an event to the ledger (the critical path), then performs
// best-effort search indexing. Every event is HMAC-signed for
// non-repudiation before it is persisted.
func (l *Log) Log(ctx context.Context, event *domain.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now().UTC()
	}
	if event.RetentionDeadline.IsZero() {
		event.RetentionDeadline = domain.RetentionDeadlineFor("STANDARD", event.Timestamp)
	}

	signature := l.encryptor.Sign(
		event.EventID, event.TraceID, event.Actor, event.Action,
		string(event.Status), event.Timestamp.Format(time.RFC3339),
	)

	if err := l.ledger.Append(ctx, event, signature); err != nil {
		l.logger.Error("audit append failed",
			zap.String("event_id", event.EventID),
			zap.String("trace_id", event.TraceID),
			zap.Error(err),
		)
		return occamerr.Integrity("audit.Log", fmt.Errorf("append failed: %w", err))
	}

	l.asyncIndex(event)
	return nil
}

func (l *Log) asyncIndex(event *domain.AuditEvent) {
	if l.search == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("panic in async audit index", zap.Any("panic", r))
			}
		}()
		asyncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.search.Index(asyncCtx, event); err != nil {
			l.logger.Warn("audit search index failed", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}()
}

// Query retrieves events, verifying each one's signature before returning
// it, and records the access itself in the audit-of-audits trail.
func (l *Log) Query(ctx context.Context, accessorID string, filter domain.AuditEventFilter) ([]*domain.AuditEvent, error) {
	events, err := l.ledger.Query(ctx, filter)
	if err != nil {
		return nil, occamerr.Transient("audit.Query", err)
	}

	for _, e := range events {
		sig, err := l.ledger.SignatureFor(ctx, e.EventID)
		if err != nil {
			return nil, occamerr.Transient("audit.Query", err)
		}
		if !l.encryptor.VerifySignature(sig,
			e.EventID, e.TraceID, e.Actor, e.Action, string(e.Status), e.Timestamp.Format(time.RFC3339),
		) {
			l.logger.Error("audit integrity failure: signature mismatch",
				zap.String("event_id", e.EventID))
			return nil, occamerr.Integrity("audit.Query", fmt.Errorf("event %s signature invalid", e.EventID))
		}
	}

	_ = l.ledger.RecordAccess(ctx, domain.AuditAccessLog{
		AccessID:      uuid.NewString(),
		AccessorID:    accessorID,
		AccessType:    "QUERY",
		QueryFilter:   fmt.Sprintf("%+v", filter),
		RecordsViewed: len(events),
		Timestamp:     l.clock.Now().UTC(),
	})

	return events, nil
}

// Search delegates to Elasticsearch for free-text lookups the ledger's SQL
// filter does not support.
func (l *Log) Search(ctx context.Context, query string, from, size int) ([]*domain.AuditEvent, error) {
	if l.search == nil {
		return nil, occamerr.Validation("audit.Search", fmt.Errorf("search index not configured"))
	}
	return l.search.Search(ctx, query, from, size)
}

// ArchiveExpired ships a batch of events whose retention window has closed
// into S3 cold storage. The caller supplies the batch and its category.
func (l *Log) ArchiveExpired(ctx context.Context, events []*domain.AuditEvent, category string) error {
	if l.archive == nil || len(events) == 0 {
		return nil
	}
	return l.archive.ArchiveBatch(ctx, events, category, uuid.NewString())
}
