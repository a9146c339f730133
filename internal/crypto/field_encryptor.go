// Package crypto provides the versioned AES-256-GCM field encryption and
// HMAC-SHA256 signing shared by the Secure Vault and the Audit Log,
// adapted from the teacher's internal/crypto/encryption.go.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
)

// FieldEncryptor holds one or more versioned AES-256 keys plus an
// HMAC-SHA256 secret for non-repudiation signatures.
type FieldEncryptor struct {
	mu             sync.RWMutex
	keys           map[int][]byte
	currentVersion int
	hmacSecret     []byte
}

// NewFieldEncryptor builds an encryptor from base64-encoded 32-byte keys.
// keysBase64[i] becomes key version i+1.
func NewFieldEncryptor(keysBase64 []string, currentVersion int, hmacSecretBase64 string) (*FieldEncryptor, error) {
	if len(keysBase64) == 0 {
		return nil, errors.New("crypto: at least one encryption key is required")
	}

	keys := make(map[int][]byte, len(keysBase64))
	for i, keyB64 := range keysBase64 {
		key, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode key %d: %w", i+1, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("crypto: key %d must be 32 bytes for AES-256, got %d", i+1, len(key))
		}
		keys[i+1] = key
	}
	if _, exists := keys[currentVersion]; !exists {
		return nil, fmt.Errorf("crypto: current version %d not found in keys", currentVersion)
	}

	hmacSecret, err := base64.StdEncoding.DecodeString(hmacSecretBase64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode hmac secret: %w", err)
	}

	return &FieldEncryptor{keys: keys, currentVersion: currentVersion, hmacSecret: hmacSecret}, nil
}

// Encrypt seals plaintext with the current key version. The returned blob
// packs nonce||ciphertext||tag together, as cipher.AEAD.Seal does.
func (e *FieldEncryptor) Encrypt(plaintext []byte) ([]byte, int, error) {
	e.mu.RLock()
	key := e.keys[e.currentVersion]
	version := e.currentVersion
	e.mu.RUnlock()

	aesGCM, err := e.gcmFor(key)
	if err != nil {
		return nil, 0, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, 0, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	blob := aesGCM.Seal(nonce, nonce, plaintext, nil)
	return blob, version, nil
}

// Decrypt opens a blob sealed by Encrypt using the given key version.
func (e *FieldEncryptor) Decrypt(blob []byte, keyVersion int) ([]byte, error) {
	e.mu.RLock()
	key, exists := e.keys[keyVersion]
	e.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("crypto: key version %d not found", keyVersion)
	}

	aesGCM, err := e.gcmFor(key)
	if err != nil {
		return nil, err
	}

	nonceSize := aesGCM.NonceSize()
	if len(blob) < nonceSize {
		return nil, errors.New("crypto: ciphertext too short")
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	return plaintext, nil
}

func (e *FieldEncryptor) gcmFor(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return aesGCM, nil
}

// CurrentKeyVersion returns the version new Encrypt calls will use.
func (e *FieldEncryptor) CurrentKeyVersion() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentVersion
}

// RotateMasterKey installs a new key as the current version. Blobs sealed
// under earlier versions stay decryptable as long as their version is
// still in the map.
func (e *FieldEncryptor) RotateMasterKey(newKeyBase64 string, newVersion int) error {
	newKey, err := base64.StdEncoding.DecodeString(newKeyBase64)
	if err != nil {
		return fmt.Errorf("crypto: decode new key: %w", err)
	}
	if len(newKey) != 32 {
		return fmt.Errorf("crypto: new key must be 32 bytes for AES-256, got %d", len(newKey))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[newVersion] = newKey
	e.currentVersion = newVersion
	return nil
}

// HMAC returns the hex-encoded HMAC-SHA256 of data under the shared secret.
func (e *FieldEncryptor) HMAC(data string) string {
	h := hmac.New(sha256.New, e.hmacSecret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC reports whether signature matches HMAC(data).
func (e *FieldEncryptor) VerifyHMAC(data, signature string) bool {
	expected := e.HMAC(data)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign produces a digital signature over the ordered fields of an audit
// event, for non-repudiation.
func (e *FieldEncryptor) Sign(fields ...string) string {
	return e.HMAC(joinFields(fields))
}

// VerifySignature checks a signature produced by Sign.
func (e *FieldEncryptor) VerifySignature(signature string, fields ...string) bool {
	return e.VerifyHMAC(joinFields(fields), signature)
}

func joinFields(fields []string) string {
	data := ""
	for i, f := range fields {
		if i > 0 {
			data += "|"
		}
		data += f
	}
	return data
}
