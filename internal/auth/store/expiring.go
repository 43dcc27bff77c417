// Package store provides the TTL-bounded key-value store backing the façade's
// pending authorizations and the client-metadata cache.
package store

import (
	"fmt"
	"sync"
	"time"
)

// MaxTimerDuration is the largest delay accepted for a scheduled removal.
// Host timers commonly cap at a 32-bit millisecond value; anything above it
// is a misconfiguration and is rejected at construction time.
const MaxTimerDuration = time.Duration(1<<31-1) * time.Millisecond

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock abstracts time and timer scheduling so tests can drive expiry
// deterministically with a fake.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns a Clock backed by the runtime's wall clock.
func SystemClock() Clock { return systemClock{} }

type entry[V any] struct {
	value     V
	expiresAt time.Time
	timer     Timer
	gen       uint64
}

// Expiring is a TTL map. Entries are removed by a scheduled callback when
// their TTL elapses and are additionally treated as absent by Get at or after
// the expiry instant. Safe for use by interleaved requests: every mutation is
// a single operation under the store lock, and no lock is held across I/O.
type Expiring[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	defaultTTL time.Duration
	clock      Clock
	gen        uint64
}

// NewExpiring creates a store whose entries default to the given TTL.
// A nil clock selects the system clock. Zero, negative, or excessively large
// TTLs are construction-time errors.
func NewExpiring[V any](defaultTTL time.Duration, clock Clock) (*Expiring[V], error) {
	if err := validateTTL(defaultTTL); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Expiring[V]{
		entries:    make(map[string]*entry[V]),
		defaultTTL: defaultTTL,
		clock:      clock,
	}, nil
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("store: ttl must be positive, got %v", ttl)
	}
	if ttl > MaxTimerDuration {
		return fmt.Errorf("store: ttl %v exceeds maximum timer duration %v", ttl, MaxTimerDuration)
	}
	return nil
}

// Set stores value under key with the store's default TTL, replacing any
// existing entry wholesale.
func (s *Expiring[V]) Set(key string, value V) {
	// Default TTL was validated at construction.
	_ = s.SetTTL(key, value, s.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
func (s *Expiring[V]) SetTTL(key string, value V, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}

	s.gen++
	gen := s.gen
	e := &entry[V]{
		value:     value,
		expiresAt: s.clock.Now().Add(ttl),
		gen:       gen,
	}
	s.entries[key] = e
	e.timer = s.clock.AfterFunc(ttl, func() { s.expire(key, gen) })
	return nil
}

// expire removes the entry scheduled under gen. A replaced entry carries a
// newer generation, so a stale timer firing late is a no-op.
func (s *Expiring[V]) expire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.gen == gen {
		delete(s.entries, key)
	}
}

// Get returns the live value for key. An entry at or past its expiry instant
// is indistinguishable from a never-existing key.
func (s *Expiring[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Take returns the live value for key and removes it in the same operation,
// so single-use entries cannot be redeemed twice by interleaved requests.
func (s *Expiring[V]) Take(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, key)
	if !s.clock.Now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Delete removes key. Deleting an absent or already-expired key is a no-op.
func (s *Expiring[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

// Clear removes every entry and cancels their scheduled removals.
func (s *Expiring[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

// Len reports the number of stored entries, including any whose timer has not
// yet fired but which Get would already treat as expired.
func (s *Expiring[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
