package wrappers

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"

	"github.com/o-tero/cachekit/cache"
)

// flagRaw/flagGzip is a one-byte header prefixed to every value this wrapper
// writes, so Get can tell a compressed payload from one that fell below
// the threshold without guessing from content. No suitable third-party
// compression library is imported anywhere in the example pack (the one
// indirect reference, klauspost/compress, is a transitive dependency of an
// unrelated library, not something any example directly calls), so this
// wrapper uses the standard library's compress/gzip.
const (
	flagRaw       byte = 0
	flagGzip      byte = 1
	headerLen          = 1
)

// Compression gzip-compresses values at or above Threshold bytes on put, and
// decompresses on get based on the header flag. It sits above Encryption so
// ciphertext — which is high-entropy and therefore incompressible — is never
// what gets compressed.
type Compression struct {
	inner     cache.Cache
	Threshold int
}

// NewCompression builds a Compression wrapper. Values smaller than threshold
// bytes are stored as-is (with a flagRaw header) to avoid paying gzip
// overhead on payloads too small to benefit.
func NewCompression(inner cache.Cache, threshold int) *Compression {
	return &Compression{inner: inner, Threshold: threshold}
}

var _ cache.Cache = (*Compression)(nil)

func (c *Compression) encode(value []byte) ([]byte, error) {
	if len(value) < c.Threshold {
		return append([]byte{flagRaw}, value...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(flagGzip)
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compression) decode(stored []byte) ([]byte, error) {
	if len(stored) < headerLen {
		return stored, nil
	}
	flag, payload := stored[0], stored[headerLen:]
	if flag == flagRaw {
		return payload, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *Compression) Put(ctx context.Context, key string, value []byte) error {
	return c.PutWithTTL(ctx, key, value, 0)
}

func (c *Compression) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	encoded, err := c.encode(value)
	if err != nil {
		return &cache.SerializationError{Key: key, Cause: err}
	}
	return c.inner.PutWithTTL(ctx, key, encoded, ttl)
}

func (c *Compression) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stored, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := c.decode(stored)
	if err != nil {
		return nil, false, &cache.SerializationError{Key: key, Cause: err}
	}
	return v, true, nil
}

func (c *Compression) Remove(ctx context.Context, key string) error { return c.inner.Remove(ctx, key) }
func (c *Compression) Clear(ctx context.Context) error              { return c.inner.Clear(ctx) }
func (c *Compression) ContainsKey(ctx context.Context, key string) (bool, error) {
	return c.inner.ContainsKey(ctx, key)
}

func (c *Compression) PutAll(ctx context.Context, items map[string][]byte) error {
	encoded := make(map[string][]byte, len(items))
	for k, v := range items {
		ev, err := c.encode(v)
		if err != nil {
			return &cache.SerializationError{Key: k, Cause: err}
		}
		encoded[k] = ev
	}
	return c.inner.PutAll(ctx, encoded)
}

func (c *Compression) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	stored, err := c.inner.GetAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(stored))
	for k, v := range stored {
		dv, err := c.decode(v)
		if err != nil {
			return nil, &cache.SerializationError{Key: k, Cause: err}
		}
		out[k] = dv
	}
	return out, nil
}

func (c *Compression) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	encoded, err := c.encode(value)
	if err != nil {
		return false, &cache.SerializationError{Key: key, Cause: err}
	}
	return c.inner.PutIfAbsent(ctx, key, encoded, ttl)
}

// Increment/Decrement pass through uncompressed: counters are native numeric
// operations at the backend and never pass through this wrapper's encoding.
func (c *Compression) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.inner.Increment(ctx, key, delta)
}
func (c *Compression) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return c.inner.Decrement(ctx, key, delta)
}
func (c *Compression) Statistics(ctx context.Context) (cache.Statistics, error) {
	return c.inner.Statistics(ctx)
}
