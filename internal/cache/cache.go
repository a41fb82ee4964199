// Package cache memoizes unit results. A bounded in-memory LRU sits in front
// of an optional durable tier, and concurrent requests for the same key share
// a single computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/logger"
)

const (
	DefaultCapacity = 1024
	DefaultTTL      = 24 * time.Hour
)

// Key derives the cache key of a unit invocation from the unit id, the NFC
// normalized text and the context fingerprint.
func Key(unitID, text, fingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", unitID, internal.NormalizeText(text), fingerprint)
	return hex.EncodeToString(h.Sum(nil))
}

// Value is what a compute function produces. Transient values are handed to
// every waiting caller but never stored.
type Value struct {
	Data      []byte
	Transient bool
}

// Tier is a durable backing store. Get reports ok=false for absent keys.
type Tier interface {
	Get(ctx context.Context, key string) (data []byte, expiry time.Time, ok bool, err error)
	Put(ctx context.Context, key string, data []byte, expiry time.Time) error
	Delete(ctx context.Context, key string) error
}

// Stats are counters since the layer was created.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computes  int64 `json:"computes"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// HitRate is hits over lookups, 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}

type Options struct {
	Capacity   int
	DefaultTTL time.Duration
	// Durable is optional.
	Durable Tier
	Now     func() time.Time
}

type entry struct {
	data   []byte
	expiry time.Time
}

// Layer is safe for concurrent use. Returned byte slices are shared between
// callers and must not be modified.
type Layer struct {
	mem     *lru.Cache[string, entry]
	durable Tier
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	computes  atomic.Int64
	evictions atomic.Int64
}

func New(opts Options) (*Layer, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mem, err := lru.New[string, entry](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	return &Layer{
		mem:     mem,
		durable: opts.Durable,
		ttl:     opts.DefaultTTL,
		now:     opts.Now,
	}, nil
}

// abandonedError marks a computation that failed because the caller that
// started it went away. Callers with a live context recompute.
type abandonedError struct{ err error }

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }

// GetOrCompute returns the cached value for key, or runs compute once no
// matter how many callers ask for the same key at the same time. Failed
// computations are not cached. ttl <= 0 selects the default TTL.
//
// compute runs under the context of the caller that started it. When that
// caller is cancelled, waiters whose own context is still live start a new
// computation instead of inheriting the cancellation.
func (l *Layer) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (Value, error)) ([]byte, error) {
	if data, ok := l.lookup(ctx, key); ok {
		l.hits.Add(1)
		return data, nil
	}
	l.misses.Add(1)

	for {
		ch := l.group.DoChan(key, func() (any, error) {
			// a flight that finished between our lookup and DoChan already stored it
			if data, ok := l.lookup(ctx, key); ok {
				return data, nil
			}
			l.computes.Add(1)
			v, err := compute(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &abandonedError{err: err}
				}
				return nil, err
			}
			if !v.Transient {
				l.store(ctx, key, v.Data, ttl)
			}
			return v.Data, nil
		})

		select {
		case res := <-ch:
			var abandoned *abandonedError
			if errors.As(res.Err, &abandoned) {
				if ctx.Err() == nil {
					logger.Debug("cache: computation of %s abandoned by its caller, retrying", key)
					continue
				}
				return nil, abandoned.err
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return res.Val.([]byte), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Layer) lookup(ctx context.Context, key string) ([]byte, bool) {
	now := l.now()
	if e, ok := l.mem.Get(key); ok {
		if now.Before(e.expiry) {
			return e.data, true
		}
		l.mem.Remove(key)
	}
	if l.durable == nil {
		return nil, false
	}

	data, expiry, ok, err := l.durable.Get(ctx, key)
	if err != nil {
		logger.Warn("cache: durable read failed, treating as miss: %v", err)
		return nil, false
	}
	if !ok || !now.Before(expiry) {
		return nil, false
	}
	l.add(key, entry{data: data, expiry: expiry})
	return data, true
}

func (l *Layer) store(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.ttl
	}
	expiry := l.now().Add(ttl)
	l.add(key, entry{data: data, expiry: expiry})
	if l.durable == nil {
		return
	}
	if err := l.durable.Put(ctx, key, data, expiry); err != nil {
		logger.Warn("cache: durable write failed: %v", err)
	}
}

func (l *Layer) add(key string, e entry) {
	if evicted := l.mem.Add(key, e); evicted {
		l.evictions.Add(1)
	}
}

// Invalidate drops key from both tiers.
func (l *Layer) Invalidate(ctx context.Context, key string) error {
	l.mem.Remove(key)
	if l.durable == nil {
		return nil
	}
	if err := l.durable.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	return nil
}

// Purge empties the memory tier.
func (l *Layer) Purge() {
	l.mem.Purge()
}

func (l *Layer) Stats() Stats {
	return Stats{
		Hits:      l.hits.Load(),
		Misses:    l.misses.Load(),
		Computes:  l.computes.Load(),
		Evictions: l.evictions.Load(),
		Entries:   l.mem.Len(),
	}
}
