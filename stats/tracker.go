// Package stats tracks per-interface sample counters for the periodic
// console output.
package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks pipeline statistics by interface
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-sample increments don't fight over a mutex
	sampleCounts  sync.Map // interface -> *atomic.Uint64
	discardCounts sync.Map // interface -> *atomic.Uint64 (store-rejected samples)
	start         atomic.Int64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementSample increases the valid-sample count for an interface
func (t *Tracker) IncrementSample(iface string) {
	incrementCounter(&t.sampleCounts, iface)
}

// IncrementDiscard increases the store-rejected sample count for an interface
func (t *Tracker) IncrementDiscard(iface string) {
	incrementCounter(&t.discardCounts, iface)
}

// GetSampleCounts returns a copy of per-interface sample counts
func (t *Tracker) GetSampleCounts() map[string]uint64 {
	return copyCounts(&t.sampleCounts)
}

// GetDiscardCounts returns a copy of per-interface store-rejected counts
func (t *Tracker) GetDiscardCounts() map[string]uint64 {
	return copyCounts(&t.discardCounts)
}

// GetTotal returns the total sample count across all interfaces
func (t *Tracker) GetTotal() uint64 {
	var total uint64
	t.sampleCounts.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
