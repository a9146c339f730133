package domain

import "time"

// CredentialKind enumerates the kinds of secret material the vault stores.
type CredentialKind string

const (
	CredentialUsername    CredentialKind = "username"
	CredentialPassword    CredentialKind = "password"
	CredentialAPIKey      CredentialKind = "api-key"
	CredentialOAuthToken  CredentialKind = "oauth-token"
	CredentialSecret      CredentialKind = "secret"
)

// Ciphertext is the on-disk layout from spec.md section 9:
// {nonce, ciphertext, tag, key-version, created-at}. AES-256-GCM produces
// nonce||ciphertext||tag as one blob; KeyVersion and CreatedAt are stored
// alongside so rotation and expiry don't need to touch the blob itself.
type Ciphertext struct {
	Blob       []byte    `db:"blob"`
	KeyVersion int       `db:"key_version"`
	CreatedAt  time.Time `db:"created_at"`
}

// Credential is the vault's stored record. Plaintext is never a field here.
type Credential struct {
	CredentialID   string         `json:"credential_id" db:"credential_id"`
	Scope          string         `json:"scope" db:"scope"`
	Kind           CredentialKind `json:"kind" db:"kind"`
	Cipher         Ciphertext     `json:"-" db:"-"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt     *time.Time     `json:"last_used_at,omitempty" db:"last_used_at"`
	UsageCount     int64          `json:"usage_count" db:"usage_count"`
	OwningEntityID *string        `json:"owning_entity_id,omitempty" db:"owning_entity_id"`
	SupersededBy   *string        `json:"superseded_by,omitempty" db:"superseded_by"`
}

// IsExpired reports whether the credential is past its ExpiresAt, as of now.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// IsSuperseded reports whether a rotation replaced this credential.
func (c *Credential) IsSuperseded() bool {
	return c.SupersededBy != nil
}
