// Package domain holds the shared data model of spec.md section 3: Entity,
// License, Credential, Workflow, Compliance Action, Audit Event, Approval
// Request, and Alert. Types here are plain structs; persistence and
// behavior live in the owning component packages (factbox, vault,
// workflow, audit, governance, status).
package domain

import "time"

// KYCStatus is the identity verification state of an Entity.
type KYCStatus string

const (
	KYCUnverified KYCStatus = "unverified"
	KYCVerified   KYCStatus = "verified"
	KYCRejected   KYCStatus = "rejected"
)

// Registration is a jurisdictional registration held by an Entity.
type Registration struct {
	Type          string    `json:"type" db:"type"`
	Jurisdiction  string    `json:"jurisdiction" db:"jurisdiction"`
	Status        string    `json:"status" db:"status"`
	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to,omitempty" db:"effective_to"`
}

// ContactInfo is kept as a narrow struct (not a free-form map) so FactBox
// can mask it consistently in logs.
type ContactInfo struct {
	Email string `json:"email,omitempty" db:"email"`
	Phone string `json:"phone,omitempty" db:"phone"`
}

// Entity is the identity record owned by FactBox. Immutable except via
// explicit update events (SaveEntity).
type Entity struct {
	EntityID      string         `json:"entity_id" db:"entity_id"`
	Name          string         `json:"name" db:"name"`
	Type          string         `json:"type" db:"type"`
	Jurisdiction  string         `json:"jurisdiction" db:"jurisdiction"`
	Contact       ContactInfo    `json:"contact" db:"-"`
	KYCStatus     KYCStatus      `json:"kyc_status" db:"kyc_status"`
	Registrations []Registration `json:"registrations" db:"-"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}
