// Package vault implements the Secure Vault (spec.md section 4.2):
// encrypted credential storage with lifecycle and rotation.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/crypto"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// store is the persistence surface Vault needs, narrowed from *Store so
// tests can back it with an in-memory fake instead of Postgres.
type store interface {
	Insert(ctx context.Context, c *domain.Credential) error
	Get(ctx context.Context, credentialID string) (*domain.Credential, error)
	UpdateUsage(ctx context.Context, credentialID string, lastUsedAt, usageCount int64) error
	MarkSuperseded(ctx context.Context, credentialID, supersededBy string) error
	Delete(ctx context.Context, credentialID string) error
	All(ctx context.Context) ([]*domain.Credential, error)
	ReplaceAllBlobs(ctx context.Context, updates []BlobUpdate) error
}

// rotationLocker is the mutual-exclusion surface RotateMasterKey needs,
// narrowed from *RotationLock so tests can back it with an in-memory fake
// instead of Redis.
type rotationLocker interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// Vault is the Secure Vault component.
type Vault struct {
	store     store
	encryptor *crypto.FieldEncryptor
	lock      rotationLocker
	policy    *PasswordPolicy
	auditLog  *audit.Log
	clock     clock.Clock
	logger    *zap.Logger
}

func New(store store, encryptor *crypto.FieldEncryptor, lock rotationLocker, policy *PasswordPolicy, auditLog *audit.Log, clk clock.Clock, logger *zap.Logger) *Vault {
	return &Vault{store: store, encryptor: encryptor, lock: lock, policy: policy, auditLog: auditLog, clock: clk, logger: logger}
}

// Store encrypts plaintext under the current master key and persists it.
// plaintext is overwritten with zero bytes as soon as sealing completes,
// so it does not linger in the caller's buffer after this call returns.
func (v *Vault) Store(ctx context.Context, scope string, kind domain.CredentialKind, plaintext []byte, expiresAt *time.Time, owningEntityID *string) (*domain.Credential, error) {
	if kind == domain.CredentialPassword {
		if violations := v.policy.Validate(string(plaintext)); len(violations) > 0 {
			return nil, occamerr.Validation("vault.Store", occamerr.Violations(violations))
		}
	}

	blob, version, err := v.encryptor.Encrypt(plaintext)
	zeroize(plaintext)
	if err != nil {
		return nil, occamerr.Integrity("vault.Store", err)
	}

	now := v.clock.Now().UTC()
	cred := &domain.Credential{
		CredentialID:   uuid.NewString(),
		Scope:          scope,
		Kind:           kind,
		Cipher:         domain.Ciphertext{Blob: blob, KeyVersion: version, CreatedAt: now},
		CreatedAt:      now,
		OwningEntityID: owningEntityID,
	}
	cred.ExpiresAt = expiresAt

	if err := v.store.Insert(ctx, cred); err != nil {
		return nil, occamerr.Transient("vault.Store", err)
	}

	v.emit(ctx, "vault.store", domain.SeverityInfo, domain.EventSuccess, cred.CredentialID, nil)
	return cred, nil
}

// Get decrypts and returns plaintext for a live credential, bumping
// last-used-at and usage-count. Expired credentials return a typed
// "expired" failure, never data.
func (v *Vault) Get(ctx context.Context, credentialID string) ([]byte, error) {
	cred, err := v.store.Get(ctx, credentialID)
	if err != nil {
		return nil, occamerr.Transient("vault.Get", err)
	}
	if cred == nil {
		return nil, occamerr.NotFound("vault.Get", fmt.Errorf("credential %s not found", credentialID))
	}

	now := v.clock.Now().UTC()
	if cred.IsExpired(now) {
		return nil, occamerr.Expired("vault.Get", fmt.Errorf("credential %s expired at %s", credentialID, cred.ExpiresAt))
	}

	plaintext, err := v.encryptor.Decrypt(cred.Cipher.Blob, cred.Cipher.KeyVersion)
	if err != nil {
		return nil, occamerr.Integrity("vault.Get", err)
	}

	_ = v.store.UpdateUsage(ctx, credentialID, now.Unix(), cred.UsageCount+1)
	return plaintext, nil
}

// GetForRotation returns plaintext even for an expired credential — the
// one exception spec.md section 3 carves out, since rotation is how an
// expired credential gets replaced.
func (v *Vault) GetForRotation(ctx context.Context, credentialID string) ([]byte, *domain.Credential, error) {
	cred, err := v.store.Get(ctx, credentialID)
	if err != nil {
		return nil, nil, occamerr.Transient("vault.GetForRotation", err)
	}
	if cred == nil {
		return nil, nil, occamerr.NotFound("vault.GetForRotation", fmt.Errorf("credential %s not found", credentialID))
	}
	plaintext, err := v.encryptor.Decrypt(cred.Cipher.Blob, cred.Cipher.KeyVersion)
	if err != nil {
		return nil, nil, occamerr.Integrity("vault.GetForRotation", err)
	}
	return plaintext, cred, nil
}

// Rotate re-encrypts a credential's current plaintext under a fresh
// credential-id, marking the old record superseded but retained.
func (v *Vault) Rotate(ctx context.Context, credentialID string) (*domain.Credential, error) {
	plaintext, old, err := v.GetForRotation(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	blob, version, err := v.encryptor.Encrypt(plaintext)
	zeroize(plaintext)
	if err != nil {
		return nil, occamerr.Integrity("vault.Rotate", err)
	}

	now := v.clock.Now().UTC()
	next := &domain.Credential{
		CredentialID:   uuid.NewString(),
		Scope:          old.Scope,
		Kind:           old.Kind,
		Cipher:         domain.Ciphertext{Blob: blob, KeyVersion: version, CreatedAt: now},
		CreatedAt:      now,
		ExpiresAt:      old.ExpiresAt,
		OwningEntityID: old.OwningEntityID,
	}
	if err := v.store.Insert(ctx, next); err != nil {
		return nil, occamerr.Transient("vault.Rotate", err)
	}
	if err := v.store.MarkSuperseded(ctx, old.CredentialID, next.CredentialID); err != nil {
		return nil, occamerr.Transient("vault.Rotate", err)
	}

	v.emit(ctx, "vault.rotate", domain.SeverityInfo, domain.EventSuccess, next.CredentialID, map[string]any{"superseded": old.CredentialID})
	return next, nil
}

// Delete permanently removes a credential.
func (v *Vault) Delete(ctx context.Context, credentialID string) error {
	if err := v.store.Delete(ctx, credentialID); err != nil {
		return occamerr.Transient("vault.Delete", err)
	}
	v.emit(ctx, "vault.delete", domain.SeverityWarning, domain.EventSuccess, credentialID, nil)
	return nil
}

// RotateMasterKey decrypts every stored ciphertext under the old key and
// re-seals it under newKeyBase64, committing atomically. A failure
// anywhere in the pass leaves the vault fully readable under the old key.
func (v *Vault) RotateMasterKey(ctx context.Context, newKeyBase64 string, newVersion int) error {
	token, err := v.lock.Acquire(ctx)
	if err != nil {
		return occamerr.Unauthorized("vault.RotateMasterKey", err)
	}
	defer func() {
		if releaseErr := v.lock.Release(context.Background(), token); releaseErr != nil {
			v.logger.Warn("failed to release rotation lock", zap.Error(releaseErr))
		}
	}()

	creds, err := v.store.All(ctx)
	if err != nil {
		return occamerr.Transient("vault.RotateMasterKey", err)
	}

	// Decrypt every record under whatever key version it was sealed with,
	// BEFORE the new key is installed, so a decrypt failure never leaves
	// the encryptor holding a key nothing has been re-sealed under yet.
	plaintexts := make([][]byte, len(creds))
	for i, c := range creds {
		plaintext, err := v.encryptor.Decrypt(c.Cipher.Blob, c.Cipher.KeyVersion)
		if err != nil {
			for _, p := range plaintexts[:i] {
				zeroize(p)
			}
			return occamerr.Integrity("vault.RotateMasterKey", fmt.Errorf("decrypt %s under version %d: %w", c.CredentialID, c.Cipher.KeyVersion, err))
		}
		plaintexts[i] = plaintext
	}

	if err := v.encryptor.RotateMasterKey(newKeyBase64, newVersion); err != nil {
		for _, p := range plaintexts {
			zeroize(p)
		}
		return occamerr.Validation("vault.RotateMasterKey", err)
	}

	updates := make([]BlobUpdate, len(creds))
	for i, c := range creds {
		blob, version, err := v.encryptor.Encrypt(plaintexts[i])
		zeroize(plaintexts[i])
		if err != nil {
			return occamerr.Integrity("vault.RotateMasterKey", err)
		}
		updates[i] = BlobUpdate{CredentialID: c.CredentialID, Blob: blob, KeyVersion: version}
	}

	// The transaction is the all-or-nothing boundary: if the write fails,
	// every row on disk is still the blob sealed under the old key, which
	// the encryptor (still holding that key in its version map) can open.
	if err := v.store.ReplaceAllBlobs(ctx, updates); err != nil {
		return occamerr.Transient("vault.RotateMasterKey", err)
	}

	v.emit(ctx, "vault.rotate_master_key", domain.SeverityCritical, domain.EventSuccess, "", map[string]any{"credentials_resealed": len(updates)})
	return nil
}

func (v *Vault) emit(ctx context.Context, action string, sev domain.Severity, status domain.EventStatus, credentialID string, payload map[string]any) {
	if v.auditLog == nil {
		return
	}
	event := &domain.AuditEvent{
		Actor:  "vault",
		Action: action,
		Severity: sev,
		Status: status,
		Payload: payload,
	}
	if credentialID != "" {
		if event.Payload == nil {
			event.Payload = map[string]any{}
		}
		event.Payload["credential_id"] = credentialID
	}
	if err := v.auditLog.Log(ctx, event); err != nil {
		v.logger.Error("vault failed to emit audit event", zap.String("action", action), zap.Error(err))
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
