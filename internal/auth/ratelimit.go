package auth

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

type refillBucket struct {
	count      int
	refilledAt time.Time
}

// RefillingTokenBucket allows max requests per key and regains one token
// every interval
type RefillingTokenBucket[K comparable] struct {
	mu       sync.Mutex
	max      int
	interval time.Duration
	buckets  map[K]*refillBucket
	now      Clock
}

// NewRefillingTokenBucket creates a refilling bucket
func NewRefillingTokenBucket[K comparable](max int, interval time.Duration) *RefillingTokenBucket[K] {
	return &RefillingTokenBucket[K]{
		max:      max,
		interval: interval,
		buckets:  make(map[K]*refillBucket),
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (b *RefillingTokenBucket[K]) SetClock(c Clock) {
	b.mu.Lock()
	b.now = c
	b.mu.Unlock()
}

func (b *RefillingTokenBucket[K]) refill(bucket *refillBucket, now time.Time) int {
	return int(now.Sub(bucket.refilledAt) / b.interval)
}

// Check reports whether cost tokens are available without taking them
func (b *RefillingTokenBucket[K]) Check(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[key]
	if !ok {
		return true
	}
	if n := b.refill(bucket, b.now()); n > 0 {
		return min(bucket.count+n, b.max) >= cost
	}
	return bucket.count >= cost
}

// Consume takes cost tokens, reporting false when too few are left
func (b *RefillingTokenBucket[K]) Consume(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bucket, ok := b.buckets[key]
	if !ok {
		b.buckets[key] = &refillBucket{count: b.max - cost, refilledAt: now}
		return true
	}

	bucket.count = min(bucket.count+b.refill(bucket, now), b.max)
	bucket.refilledAt = now
	if bucket.count < cost {
		return false
	}
	bucket.count -= cost
	return true
}

// Prune drops keys untouched since the cutoff
func (b *RefillingTokenBucket[K]) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, bucket := range b.buckets {
		if bucket.refilledAt.Before(cutoff) {
			delete(b.buckets, k)
			removed++
		}
	}
	return removed
}

type expiringBucket struct {
	count     int
	createdAt time.Time
}

// ExpiringTokenBucket allows max requests per key until the bucket is
// ttl old, then starts over
type ExpiringTokenBucket[K comparable] struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	buckets map[K]*expiringBucket
	now     Clock
}

// NewExpiringTokenBucket creates an expiring bucket
func NewExpiringTokenBucket[K comparable](max int, ttl time.Duration) *ExpiringTokenBucket[K] {
	return &ExpiringTokenBucket[K]{
		max:     max,
		ttl:     ttl,
		buckets: make(map[K]*expiringBucket),
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (b *ExpiringTokenBucket[K]) SetClock(c Clock) {
	b.mu.Lock()
	b.now = c
	b.mu.Unlock()
}

// Check reports whether cost tokens are available without taking them
func (b *ExpiringTokenBucket[K]) Check(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[key]
	if !ok {
		return true
	}
	if b.now().Sub(bucket.createdAt) >= b.ttl {
		return true
	}
	return bucket.count >= cost
}

// Consume takes cost tokens, reporting false when too few are left
func (b *ExpiringTokenBucket[K]) Consume(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bucket, ok := b.buckets[key]
	if !ok {
		b.buckets[key] = &expiringBucket{count: b.max - cost, createdAt: now}
		return true
	}
	if now.Sub(bucket.createdAt) >= b.ttl {
		bucket.count = b.max
		bucket.createdAt = now
	}
	if bucket.count < cost {
		return false
	}
	bucket.count -= cost
	return true
}

// Reset forgets a key
func (b *ExpiringTokenBucket[K]) Reset(key K) {
	b.mu.Lock()
	delete(b.buckets, key)
	b.mu.Unlock()
}

// Prune drops keys whose window ended before the cutoff
func (b *ExpiringTokenBucket[K]) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, bucket := range b.buckets {
		if bucket.createdAt.Add(b.ttl).Before(cutoff) {
			delete(b.buckets, k)
			removed++
		}
	}
	return removed
}

type throttleCounter struct {
	step      int
	updatedAt time.Time
}

// Throttler enforces an escalating wait between attempts per key
type Throttler[K comparable] struct {
	mu       sync.Mutex
	timeouts []time.Duration
	counters map[K]*throttleCounter
	now      Clock
}

// NewThrottler creates a throttler with the given wait ladder. The first
// attempt is always allowed.
func NewThrottler[K comparable](timeouts []time.Duration) *Throttler[K] {
	if len(timeouts) == 0 {
		timeouts = []time.Duration{0}
	}
	return &Throttler[K]{
		timeouts: timeouts,
		counters: make(map[K]*throttleCounter),
		now:      time.Now,
	}
}

// LoginTimeouts is the ladder used for password attempts
var LoginTimeouts = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
}

// SetClock overrides the time source
func (t *Throttler[K]) SetClock(c Clock) {
	t.mu.Lock()
	t.now = c
	t.mu.Unlock()
}

// Consume records an attempt, reporting false while the key must wait
func (t *Throttler[K]) Consume(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	counter, ok := t.counters[key]
	if !ok {
		t.counters[key] = &throttleCounter{updatedAt: now}
		return true
	}
	if now.Sub(counter.updatedAt) < t.timeouts[counter.step] {
		return false
	}
	counter.updatedAt = now
	counter.step = min(counter.step+1, len(t.timeouts)-1)
	return true
}

// Reset forgets a key, typically after a successful login
func (t *Throttler[K]) Reset(key K) {
	t.mu.Lock()
	delete(t.counters, key)
	t.mu.Unlock()
}

// Prune drops keys idle for longer than the largest wait before cutoff
func (t *Throttler[K]) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	longest := t.timeouts[len(t.timeouts)-1]
	removed := 0
	for k, counter := range t.counters {
		if counter.updatedAt.Add(longest).Before(cutoff) {
			delete(t.counters, k)
			removed++
		}
	}
	return removed
}

// Pruner is implemented by every limiter
type Pruner interface {
	Prune(cutoff time.Time) int
}
