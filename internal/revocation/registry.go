// Package revocation keeps the set of tokens that were invalidated before
// their natural expiry (logout).
//
// Entries are keyed by the SHA-256 digest of the token and expire on their
// own: a single sweeper walks a min-heap ordered by expiry and drops entries
// whose time has passed. Lookups take a read lock only.
package revocation

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTTL applies to entries added without an expiry.
	DefaultTTL = 2 * time.Hour
	// DefaultSweepInterval is how often Run removes expired entries.
	DefaultSweepInterval = time.Minute
)

type key [sha256.Size]byte

func keyOf(tok string) key { return sha256.Sum256([]byte(tok)) }

// Registry is an in-memory revocation set. The zero value is not usable; use New.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]time.Time
	queue   expiryHeap

	defaultTTL time.Duration
	interval   time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultTTL sets the lifetime of entries added with a zero expiry.
func WithDefaultTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTTL = d
		}
	}
}

// WithSweepInterval sets the period of the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:    make(map[key]time.Time),
		defaultTTL: DefaultTTL,
		interval:   DefaultSweepInterval,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.Named("revocation")
	return r
}

// Add marks tok as revoked until expiresAt. A zero expiresAt means now plus
// the default TTL. Expiries already in the past are ignored, and re-adding a
// token keeps the later of the two expiries.
func (r *Registry) Add(tok string, expiresAt time.Time) {
	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(r.defaultTTL)
	}
	if !expiresAt.After(now) {
		return
	}
	k := keyOf(tok)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[k]; ok && !expiresAt.After(cur) {
		return
	}
	r.entries[k] = expiresAt
	heap.Push(&r.queue, item{key: k, expiresAt: expiresAt})
}

// IsRevoked reports whether tok has been added and not yet swept.
func (r *Registry) IsRevoked(tok string) bool {
	k := keyOf(tok)
	r.mu.RLock()
	_, ok := r.entries[k]
	r.mu.RUnlock()
	return ok
}

// Size returns the number of live entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[key]time.Time)
	r.queue = nil
	r.mu.Unlock()
}

// Sweep removes entries that expired at or before now and returns how many
// were removed. The write lock is held for one removal at a time.
func (r *Registry) Sweep(now time.Time) int {
	removed := 0
	for {
		done, dropped := r.popExpired(now)
		if done {
			return removed
		}
		if dropped {
			removed++
		}
	}
}

// popExpired pops the earliest heap item if it has expired. It reports done
// when nothing is left to pop, and dropped when a live entry was deleted.
func (r *Registry) popExpired(now time.Time) (done, dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 || r.queue[0].expiresAt.After(now) {
		return true, false
	}
	it := heap.Pop(&r.queue).(item)
	// A later Add for the same token leaves a stale item behind.
	if cur, ok := r.entries[it.key]; ok && cur.Equal(it.expiresAt) {
		delete(r.entries, it.key)
		return false, true
	}
	return false, false
}

// Run sweeps periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("sweeper started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("sweeper stopped", zap.Int("entries", r.Size()))
			return
		case <-t.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.log.Debug("swept expired entries", zap.Int("removed", n), zap.Int("remaining", r.Size()))
			}
		}
	}
}

type item struct {
	key       key
	expiresAt time.Time
}

// expiryHeap is a min-heap of items ordered by expiresAt.
type expiryHeap []item

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
