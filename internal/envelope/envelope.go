// Package envelope implements the two-tier KEK/DEK envelope encryption
// scheme that backs the tenant configuration store: a single master key
// (KEK) loaded from the environment encrypts one data-encryption key (DEK)
// per tenant, and the DEK in turn encrypts tenant configuration values.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
)

var (
	// ErrKekNotConfigured is returned when no master key has been supplied.
	ErrKekNotConfigured = errors.New("envelope: kek not configured")
	// ErrInvalidKek is returned when the configured KEK is not 32 raw bytes.
	ErrInvalidKek = errors.New("envelope: invalid kek")
	// ErrEncryptionFailed wraps underlying AEAD seal failures.
	ErrEncryptionFailed = errors.New("envelope: encryption failed")
	// ErrDecryptionFailed wraps underlying AEAD open failures (includes auth failure).
	ErrDecryptionFailed = errors.New("envelope: decryption failed")
	// ErrNoDekForTenant is returned when no DEK exists for a tenant/version pair.
	ErrNoDekForTenant = errors.New("envelope: no dek for tenant")
)

// EncryptedDEK is the at-rest representation of a tenant's data-encryption
// key: a nonce‖ciphertext blob produced by sealing the raw DEK under the KEK,
// plus the version it was minted as.
type EncryptedDEK struct {
	KeyVersion int
	Blob       []byte // nonce (12 bytes) ‖ ciphertext
}

// EncryptedValue is the at-rest representation of a value encrypted under a
// tenant DEK: base64(nonce‖ciphertext) plus the DEK version used, so the
// correct (possibly rotated-out) key can be located again at decrypt time.
type EncryptedValue struct {
	Ciphertext string // base64(nonce‖ciphertext)
	KeyVersion int
}

// DEKStore persists encrypted per-tenant data-encryption keys. internal/storage
// does not implement it; no Postgres- or Mongo-backed DEKStore is included, and
// the tests supply an in-memory stub.
type DEKStore interface {
	// LoadActiveDEK returns the highest-versioned active encrypted DEK for a tenant.
	LoadActiveDEK(tenantID string) (EncryptedDEK, bool, error)
	// LoadDEKByVersion returns a specific (possibly inactive) version's encrypted DEK.
	LoadDEKByVersion(tenantID string, version int) (EncryptedDEK, bool, error)
	// StoreDEK inserts a newly minted encrypted DEK as the active version,
	// deactivating any previously active version for the tenant.
	StoreDEK(tenantID string, dek EncryptedDEK) error
}

type cachedDEK struct {
	version int
	raw     []byte // 32-byte raw DEK, kept only in memory
}

// ConfigEncryption implements a KEK/DEK envelope hierarchy: the KEK never
// leaves this process, per-tenant DEKs are generated on first write and
// memoized behind a write-locked cache, and every value is sealed under its
// tenant's DEK with a fresh random nonce.
type ConfigEncryption struct {
	kek   []byte // 32 raw bytes, zeroed on Close
	store DEKStore

	mu       sync.RWMutex
	cache    map[string]cachedDEK            // tenantID -> active DEK
	byVerKey map[string]map[int]cachedDEK    // tenantID -> version -> DEK (rotation history)
}

// New constructs a ConfigEncryption from a base64-encoded 32-byte KEK.
func New(kekBase64 string, store DEKStore) (*ConfigEncryption, error) {
	if kekBase64 == "" {
		return nil, ErrKekNotConfigured
	}
	raw, err := base64.StdEncoding.DecodeString(kekBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKek, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKek, KeySize, len(raw))
	}
	return &ConfigEncryption{
		kek:      raw,
		store:    store,
		cache:    make(map[string]cachedDEK),
		byVerKey: make(map[string]map[int]cachedDEK),
	}, nil
}

// FromEnv reads the KEK from the CEDROS_CONFIG_KEK environment variable.
func FromEnv(getenv func(string) string, store DEKStore) (*ConfigEncryption, error) {
	return New(getenv("CEDROS_CONFIG_KEK"), store)
}

// Close zeroes the in-memory KEK and cached DEKs. Safe to call once.
func (c *ConfigEncryption) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	zero(c.kek)
	for k, v := range c.cache {
		zero(v.raw)
		delete(c.cache, k)
	}
	for tenant, versions := range c.byVerKey {
		for v, d := range versions {
			zero(d.raw)
			delete(versions, v)
		}
		delete(c.byVerKey, tenant)
	}
}

// ClearCache drops all memoized DEKs, forcing the next access to reload from
// the store. Used after rotation and by tests that need a clean slate.
func (c *ConfigEncryption) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cachedDEK)
	c.byVerKey = make(map[string]map[int]cachedDEK)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (c *ConfigEncryption) kekAEAD() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return cipher.NewGCM(block)
}

// getOrCreateDEK returns the tenant's active raw DEK, generating and
// persisting a new one on first use.
func (c *ConfigEncryption) getOrCreateDEK(tenantID string) ([]byte, int, error) {
	c.mu.RLock()
	if cd, ok := c.cache[tenantID]; ok {
		raw := cd.raw
		ver := cd.version
		c.mu.RUnlock()
		return raw, ver, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under write lock: another goroutine may have won the race.
	if cd, ok := c.cache[tenantID]; ok {
		return cd.raw, cd.version, nil
	}

	if c.store != nil {
		enc, found, err := c.store.LoadActiveDEK(tenantID)
		if err != nil {
			return nil, 0, fmt.Errorf("envelope: load dek: %w", err)
		}
		if found {
			raw, err := c.decryptDEK(enc.Blob)
			if err != nil {
				return nil, 0, err
			}
			c.cache[tenantID] = cachedDEK{version: enc.KeyVersion, raw: raw}
			c.rememberVersion(tenantID, enc.KeyVersion, raw)
			return raw, enc.KeyVersion, nil
		}
	}

	raw, err := c.createDEK(tenantID, 1)
	if err != nil {
		return nil, 0, err
	}
	c.cache[tenantID] = cachedDEK{version: 1, raw: raw}
	c.rememberVersion(tenantID, 1, raw)
	return raw, 1, nil
}

func (c *ConfigEncryption) rememberVersion(tenantID string, version int, raw []byte) {
	versions, ok := c.byVerKey[tenantID]
	if !ok {
		versions = make(map[int]cachedDEK)
		c.byVerKey[tenantID] = versions
	}
	versions[version] = cachedDEK{version: version, raw: raw}
}

// createDEK mints a fresh 32-byte DEK, seals it under the KEK, and persists it.
func (c *ConfigEncryption) createDEK(tenantID string, version int) ([]byte, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("%w: generate dek: %v", ErrEncryptionFailed, err)
	}

	blob, err := c.encryptDEK(raw)
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.StoreDEK(tenantID, EncryptedDEK{KeyVersion: version, Blob: blob}); err != nil {
			return nil, fmt.Errorf("envelope: store dek: %w", err)
		}
	}

	return raw, nil
}

func (c *ConfigEncryption) encryptDEK(raw []byte) ([]byte, error) {
	aead, err := c.kekAEAD()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrEncryptionFailed, err)
	}
	ct := aead.Seal(nil, nonce, raw, nil)
	return append(nonce, ct...), nil
}

func (c *ConfigEncryption) decryptDEK(blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, fmt.Errorf("%w: truncated dek blob", ErrDecryptionFailed)
	}
	aead, err := c.kekAEAD()
	if err != nil {
		return nil, err
	}
	nonce, ct := blob[:NonceSize], blob[NonceSize:]
	raw, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return raw, nil
}

// loadDEKByVersion returns the raw DEK for a specific (tenant, version),
// consulting the rotation-history cache before the store.
func (c *ConfigEncryption) loadDEKByVersion(tenantID string, version int) ([]byte, error) {
	c.mu.RLock()
	if versions, ok := c.byVerKey[tenantID]; ok {
		if cd, ok := versions[version]; ok {
			c.mu.RUnlock()
			return cd.raw, nil
		}
	}
	c.mu.RUnlock()

	if c.store == nil {
		return nil, ErrNoDekForTenant
	}

	enc, found, err := c.store.LoadDEKByVersion(tenantID, version)
	if err != nil {
		return nil, fmt.Errorf("envelope: load dek version: %w", err)
	}
	if !found {
		return nil, ErrNoDekForTenant
	}
	raw, err := c.decryptDEK(enc.Blob)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.rememberVersion(tenantID, version, raw)
	c.mu.Unlock()

	return raw, nil
}

// EncryptValue seals plaintext under the tenant's active DEK.
func (c *ConfigEncryption) EncryptValue(tenantID, plaintext string) (EncryptedValue, error) {
	raw, version, err := c.getOrCreateDEK(tenantID)
	if err != nil {
		return EncryptedValue{}, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedValue{}, fmt.Errorf("%w: nonce: %v", ErrEncryptionFailed, err)
	}

	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)
	blob := append(nonce, ct...)

	return EncryptedValue{
		Ciphertext: base64.StdEncoding.EncodeToString(blob),
		KeyVersion: version,
	}, nil
}

// DecryptValue opens a value sealed by EncryptValue, loading whichever DEK
// version it was encrypted under (tolerating rotation: old values remain
// readable as long as their DEK version is still retrievable from the store).
func (c *ConfigEncryption) DecryptValue(tenantID string, value EncryptedValue) (string, error) {
	raw, err := c.loadDEKByVersion(tenantID, value.KeyVersion)
	if err != nil {
		return "", err
	}

	blob, err := base64.StdEncoding.DecodeString(value.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(blob) < NonceSize {
		return "", fmt.Errorf("%w: truncated value blob", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonce, ct := blob[:NonceSize], blob[NonceSize:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(pt), nil
}

// Rotate mints a new DEK version for the tenant and makes it active; values
// encrypted under the previous version remain decryptable via loadDEKByVersion.
func (c *ConfigEncryption) Rotate(tenantID string) (int, error) {
	c.mu.Lock()
	cur, ok := c.cache[tenantID]
	c.mu.Unlock()

	nextVersion := 1
	if ok {
		nextVersion = cur.version + 1
	}

	raw, err := c.createDEK(tenantID, nextVersion)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cache[tenantID] = cachedDEK{version: nextVersion, raw: raw}
	c.rememberVersion(tenantID, nextVersion, raw)
	c.mu.Unlock()

	return nextVersion, nil
}
