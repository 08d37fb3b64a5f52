// Package testutil provides deterministic clocks and identifiers so that
// scenario traces are byte-identical between runs.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a resettable logical clock. It satisfies
// memstore.VersionClock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// FakeTime is a wall clock that only moves when told to. Pass its Now
// method wherever a func() time.Time is accepted.
type FakeTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeTime creates a FakeTime frozen at start.
func NewFakeTime(start time.Time) *FakeTime {
	return &FakeTime{now: start}
}

// Now returns the current fake time.
func (f *FakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *FakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
