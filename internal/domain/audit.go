package domain

import "time"

// Severity is the audit event severity from spec.md section 3.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// EventStatus is the audit event's own status (distinct from Severity).
type EventStatus string

const (
	EventSuccess EventStatus = "success"
	EventFailure EventStatus = "failure"
	EventWarning EventStatus = "warning"
	EventPending EventStatus = "pending"
)

// AuditEvent is an immutable, append-only record. It can never be mutated
// once persisted — the audit package enforces this, not this struct.
type AuditEvent struct {
	EventID          string         `json:"event_id" db:"event_id"`
	TraceID          string         `json:"trace_id" db:"trace_id"`
	WorkflowID       *string        `json:"workflow_id,omitempty" db:"workflow_id"`
	EntityID         *string        `json:"entity_id,omitempty" db:"entity_id"`
	Actor            string         `json:"actor" db:"actor"`
	Action           string         `json:"action" db:"action"`
	Severity         Severity       `json:"severity" db:"severity"`
	Status           EventStatus    `json:"status" db:"status"`
	Payload          map[string]any `json:"payload,omitempty" db:"-"`
	Timestamp        time.Time      `json:"timestamp" db:"timestamp"`
	RetentionDeadline time.Time     `json:"retention_deadline" db:"retention_deadline"`
}

// AuditEventFilter narrows a Query call. Zero-value fields are ignored.
type AuditEventFilter struct {
	TraceID    string
	EntityID   string
	WorkflowID string
	Action     string
	Kinds      []string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// AuditAccessLog records who queried the audit log and with what filter —
// an audit of audits, adapted from the teacher's AuditAccessLog.
type AuditAccessLog struct {
	AccessID      string    `json:"access_id" db:"access_id"`
	AccessorID    string    `json:"accessor_id" db:"accessor_id"`
	AccessType    string    `json:"access_type" db:"access_type"` // QUERY
	QueryFilter   string    `json:"query_filter" db:"query_filter"`
	RecordsViewed int       `json:"records_viewed" db:"records_viewed"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// RetentionPolicy defines how long an audit category must be kept,
// adapted from the teacher's StandardRetentionPolicies map.
type RetentionPolicy struct {
	Category string
	Period   time.Duration
}

// StandardRetentionPolicies mirrors spec.md's default of 7 years for
// compliance records, with shorter categories for lower-stakes events.
var StandardRetentionPolicies = map[string]RetentionPolicy{
	"STANDARD":    {Category: "STANDARD", Period: 7 * 365 * 24 * time.Hour},
	"APPROVAL":    {Category: "APPROVAL", Period: 7 * 365 * 24 * time.Hour},
	"STATUS_ALERT": {Category: "STATUS_ALERT", Period: 365 * 24 * time.Hour},
}

// RetentionDeadlineFor computes timestamp + the category's retention
// period, defaulting to STANDARD when the category is unknown.
func RetentionDeadlineFor(category string, timestamp time.Time) time.Time {
	policy, ok := StandardRetentionPolicies[category]
	if !ok {
		policy = StandardRetentionPolicies["STANDARD"]
	}
	return timestamp.Add(policy.Period)
}
