package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/crypto"
	"github.com/otrix/occam-agents/internal/domain"
)

// fakeStore is an in-memory store, letting vault tests exercise Store/Get/
// Rotate/RotateMasterKey without Postgres.
type fakeStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Credential
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]*domain.Credential{}} }

func (s *fakeStore) Insert(ctx context.Context, c *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byID[c.CredentialID] = &cp
	return nil
}

func (s *fakeStore) Get(ctx context.Context, credentialID string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdateUsage(ctx context.Context, credentialID string, lastUsedAt, usageCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return nil
	}
	t := time.Unix(lastUsedAt, 0).UTC()
	c.LastUsedAt = &t
	c.UsageCount = usageCount
	return nil
}

func (s *fakeStore) MarkSuperseded(ctx context.Context, credentialID, supersededBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return nil
	}
	c.SupersededBy = &supersededBy
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, credentialID)
	return nil
}

func (s *fakeStore) All(ctx context.Context) ([]*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Credential, 0, len(s.byID))
	for _, c := range s.byID {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ReplaceAllBlobs(ctx context.Context, updates []BlobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		c, ok := s.byID[u.CredentialID]
		if !ok {
			continue
		}
		c.Cipher.Blob = u.Blob
		c.Cipher.KeyVersion = u.KeyVersion
	}
	return nil
}

// fakeRotationLocker is an in-memory rotationLocker, replacing Redis in
// RotateMasterKey tests.
type fakeRotationLocker struct {
	mu     sync.Mutex
	holder string
}

func (l *fakeRotationLocker) Acquire(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return "", errLockHeld
	}
	l.holder = "token"
	return l.holder, nil
}

func (l *fakeRotationLocker) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == token {
		l.holder = ""
	}
	return nil
}

type lockHeldError string

func (e lockHeldError) Error() string { return string(e) }

const errLockHeld = lockHeldError("rotation lock already held")

const (
	testKeyV1  = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="
	testKeyV2  = "AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA="
	testHMAC   = "AgMEBQYHCAkKCwwNDg8QERITFBUWFxgZGhscHR4fIAE="
)

func testVault(t *testing.T, clk clock.Clock) (*Vault, *fakeStore) {
	t.Helper()
	enc, err := crypto.NewFieldEncryptor([]string{testKeyV1}, 1, testHMAC)
	if err != nil {
		t.Fatalf("build field encryptor: %v", err)
	}
	store := newFakeStore()
	policy := NewPasswordPolicy(defaultVaultConfig())
	v := New(store, enc, &fakeRotationLocker{}, policy, nil, clk, zap.NewNop())
	return v, store
}

// TestStoreThenGetRoundTrips covers spec.md's testable property 5: a secret
// stored and retrieved returns exactly the original plaintext.
func TestStoreThenGetRoundTrips(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, _ := testVault(t, clk)

	plaintext := []byte("s3cret-api-key")
	cred, err := v.Store(context.Background(), "scope-1", domain.CredentialAPIKey, append([]byte(nil), plaintext...), nil, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := v.Get(context.Background(), cred.CredentialID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected round-tripped plaintext %q, got %q", plaintext, got)
	}
}

// TestStoreZeroesCallersBuffer confirms Store never leaves the caller's
// plaintext buffer intact once sealing completes (spec.md section 4.2).
func TestStoreZeroesCallersBuffer(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, _ := testVault(t, clk)

	plaintext := []byte("zero-me-out")
	if _, err := v.Store(context.Background(), "scope-1", domain.CredentialSecret, plaintext, nil, nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	for i, b := range plaintext {
		if b != 0 {
			t.Fatalf("expected plaintext buffer zeroed after Store, byte %d is %x", i, b)
		}
	}
}

// TestGetOnCiphertextNeverExposesPlaintextOnDisk covers spec.md testable
// property 6 (confidentiality): the stored blob never contains the
// plaintext, only Get (through the encryptor) can recover it.
func TestGetOnCiphertextNeverExposesPlaintextOnDisk(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, store := testVault(t, clk)

	plaintext := []byte("super-secret-password-value")
	cred, err := v.Store(context.Background(), "scope-1", domain.CredentialSecret, append([]byte(nil), plaintext...), nil, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	stored, err := store.Get(context.Background(), cred.CredentialID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if containsSubslice(stored.Cipher.Blob, plaintext) {
		t.Fatal("expected the stored blob to never contain the plaintext bytes")
	}
}

// TestGetRejectsExpiredCredential covers the expired-credential edge case:
// Get must fail typed rather than ever return plaintext past expiry.
func TestGetRejectsExpiredCredential(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, _ := testVault(t, clk)

	past := clk.Now().Add(-time.Hour)
	cred, err := v.Store(context.Background(), "scope-1", domain.CredentialAPIKey, []byte("expiring"), &past, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, err := v.Get(context.Background(), cred.CredentialID); err == nil {
		t.Fatal("expected Get on an expired credential to fail")
	}
}

// TestRotateSupersedesOldCredentialPreservingPlaintext covers rotation: a
// new credential-id is minted, the old one is marked superseded but its
// ciphertext is retained, and the new credential decrypts to the same
// plaintext.
func TestRotateSupersedesOldCredentialPreservingPlaintext(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, store := testVault(t, clk)

	plaintext := []byte("rotate-me")
	original, err := v.Store(context.Background(), "scope-1", domain.CredentialAPIKey, append([]byte(nil), plaintext...), nil, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	rotated, err := v.Rotate(context.Background(), original.CredentialID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.CredentialID == original.CredentialID {
		t.Fatal("expected rotation to mint a fresh credential id")
	}

	oldRecord, err := store.Get(context.Background(), original.CredentialID)
	if err != nil {
		t.Fatalf("store.Get(old): %v", err)
	}
	if oldRecord.SupersededBy == nil || *oldRecord.SupersededBy != rotated.CredentialID {
		t.Fatalf("expected old credential marked superseded by %s, got %+v", rotated.CredentialID, oldRecord.SupersededBy)
	}

	got, err := v.Get(context.Background(), rotated.CredentialID)
	if err != nil {
		t.Fatalf("Get(rotated): %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected rotated credential to decrypt to %q, got %q", plaintext, got)
	}
}

// TestRotateMasterKeyResealsUnderNewKeyAndStaysReadable covers
// RotateMasterKey: every stored ciphertext is re-sealed under the new key
// and remains decryptable to its original plaintext afterward.
func TestRotateMasterKeyResealsUnderNewKeyAndStaysReadable(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v, store := testVault(t, clk)

	first, err := v.Store(context.Background(), "scope-1", domain.CredentialAPIKey, []byte("first-secret"), nil, nil)
	if err != nil {
		t.Fatalf("Store first: %v", err)
	}
	second, err := v.Store(context.Background(), "scope-2", domain.CredentialSecret, []byte("second-secret"), nil, nil)
	if err != nil {
		t.Fatalf("Store second: %v", err)
	}

	if err := v.RotateMasterKey(context.Background(), testKeyV2, 2); err != nil {
		t.Fatalf("RotateMasterKey: %v", err)
	}

	gotFirst, err := v.Get(context.Background(), first.CredentialID)
	if err != nil {
		t.Fatalf("Get(first) after rotation: %v", err)
	}
	if string(gotFirst) != "first-secret" {
		t.Fatalf("expected first-secret after master key rotation, got %q", gotFirst)
	}

	gotSecond, err := v.Get(context.Background(), second.CredentialID)
	if err != nil {
		t.Fatalf("Get(second) after rotation: %v", err)
	}
	if string(gotSecond) != "second-secret" {
		t.Fatalf("expected second-secret after master key rotation, got %q", gotSecond)
	}

	rec, err := store.Get(context.Background(), first.CredentialID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if rec.Cipher.KeyVersion != 2 {
		t.Fatalf("expected the stored blob re-sealed under key version 2, got %d", rec.Cipher.KeyVersion)
	}
}

// TestRotateMasterKeyHoldsLock ensures RotateMasterKey acquires and
// releases the rotation lock rather than running unguarded.
func TestRotateMasterKeyHoldsLock(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	enc, err := crypto.NewFieldEncryptor([]string{testKeyV1}, 1, testHMAC)
	if err != nil {
		t.Fatalf("build field encryptor: %v", err)
	}
	lock := &fakeRotationLocker{}
	v := New(newFakeStore(), enc, lock, NewPasswordPolicy(defaultVaultConfig()), nil, clk, zap.NewNop())

	if err := v.RotateMasterKey(context.Background(), testKeyV2, 2); err != nil {
		t.Fatalf("RotateMasterKey: %v", err)
	}
	if lock.holder != "" {
		t.Fatal("expected RotateMasterKey to release the lock once done")
	}
}

func containsSubslice(haystack, needle []byte) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
