package wrappers

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"time"

	"github.com/o-tero/cachekit/cache"
)

// Encryption authenticated-encrypts every value with AES-GCM using a
// per-value random nonce, prefixed to the ciphertext. It is the innermost
// wrapper, closest to the backend, so compression (which must precede
// encryption) always sees plaintext. No example in the pack imports a
// third-party AEAD library directly (golang.org/x/crypto appears only as an
// indirect transitive dependency), so this wrapper is built on the standard
// library's crypto/aes and crypto/cipher.
type Encryption struct {
	inner cache.Cache
	gcm   cipher.AEAD
}

// NewEncryption builds an Encryption wrapper from a raw key (16/24/32 bytes
// selects AES-128/192/256). Per spec.md §4.6, encryption enabled without a
// valid key must fail startup rather than silently run unencrypted.
func NewEncryption(inner cache.Cache, key []byte) (*Encryption, error) {
	if len(key) == 0 {
		return nil, &cache.ConfigurationError{Property: "encryption.key", Reason: "encryption enabled but key is empty"}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &cache.ConfigurationError{Property: "encryption.key", Reason: err.Error()}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &cache.ConfigurationError{Property: "encryption.key", Reason: err.Error()}
	}
	return &Encryption{inner: inner, gcm: gcm}, nil
}

var _ cache.Cache = (*Encryption)(nil)

func (e *Encryption) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *Encryption) open(ciphertext []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errShortCiphertext
	}
	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return e.gcm.Open(nil, nonce, data, nil)
}

func (e *Encryption) Put(ctx context.Context, key string, value []byte) error {
	return e.PutWithTTL(ctx, key, value, 0)
}

func (e *Encryption) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := e.seal(value)
	if err != nil {
		return &cache.SerializationError{Key: key, Cause: err}
	}
	return e.inner.PutWithTTL(ctx, key, sealed, ttl)
}

func (e *Encryption) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stored, ok, err := e.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	plain, err := e.open(stored)
	if err != nil {
		return nil, false, &cache.SerializationError{Key: key, Cause: err}
	}
	return plain, true, nil
}

func (e *Encryption) Remove(ctx context.Context, key string) error { return e.inner.Remove(ctx, key) }
func (e *Encryption) Clear(ctx context.Context) error              { return e.inner.Clear(ctx) }
func (e *Encryption) ContainsKey(ctx context.Context, key string) (bool, error) {
	return e.inner.ContainsKey(ctx, key)
}

func (e *Encryption) PutAll(ctx context.Context, items map[string][]byte) error {
	sealed := make(map[string][]byte, len(items))
	for k, v := range items {
		sv, err := e.seal(v)
		if err != nil {
			return &cache.SerializationError{Key: k, Cause: err}
		}
		sealed[k] = sv
	}
	return e.inner.PutAll(ctx, sealed)
}

func (e *Encryption) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	stored, err := e.inner.GetAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(stored))
	for k, v := range stored {
		pv, err := e.open(v)
		if err != nil {
			return nil, &cache.SerializationError{Key: k, Cause: err}
		}
		out[k] = pv
	}
	return out, nil
}

func (e *Encryption) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	sealed, err := e.seal(value)
	if err != nil {
		return false, &cache.SerializationError{Key: key, Cause: err}
	}
	return e.inner.PutIfAbsent(ctx, key, sealed, ttl)
}

func (e *Encryption) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return e.inner.Increment(ctx, key, delta)
}
func (e *Encryption) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return e.inner.Decrement(ctx, key, delta)
}
func (e *Encryption) Statistics(ctx context.Context) (cache.Statistics, error) {
	return e.inner.Statistics(ctx)
}

// errShortCiphertext is returned when a stored value is too short to
// contain a nonce, indicating corruption or a non-encrypted legacy value.
var errShortCiphertext = &cache.CacheError{Operation: "decrypt", Cause: shortCiphertextError{}}

type shortCiphertextError struct{}

func (shortCiphertextError) Error() string { return "ciphertext shorter than nonce size" }
