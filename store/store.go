// Package store holds the single authoritative InterfaceSample per configured
// interface. Samples are replaced wholesale under a short lock so readers
// never observe a partially built sample, and each accepted update publishes a
// change notification for the broadcaster.
package store

import (
	"log"
	"sync"

	"iftopweb/sample"
)

// View is one interface's state as exposed to readers: configuration,
// sampling status, and the latest sample (nil while no data has arrived).
type View struct {
	Interface   string
	CapacityBps float64
	Status      sample.InterfaceStatus
	Sample      *sample.InterfaceSample
}

// HasData reports whether at least one valid sample has been stored.
func (v View) HasData() bool {
	return v.Sample != nil
}

type entry struct {
	capacity float64
	status   sample.InterfaceStatus
	sample   *sample.InterfaceSample
}

// Store maps interface name to its current state. Entries exist only for
// configured interfaces; samples for anything else are dropped on arrival.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // configured order, preserved in SnapshotAll

	changes chan string
	dropped uint64
}

// Interface describes one configured interface for store construction.
type Interface struct {
	Name        string
	CapacityBps float64
}

// New creates a store pre-seeded with every configured interface in waiting
// state, so SnapshotAll always covers the full configuration.
func New(interfaces []Interface) *Store {
	s := &Store{
		entries: make(map[string]*entry, len(interfaces)),
		order:   make([]string, 0, len(interfaces)),
		changes: make(chan string, 64),
	}
	for _, iface := range interfaces {
		if _, dup := s.entries[iface.Name]; dup {
			continue
		}
		s.entries[iface.Name] = &entry{
			capacity: iface.CapacityBps,
			status:   sample.StatusWaiting,
		}
		s.order = append(s.order, iface.Name)
	}
	return s
}

// Update atomically replaces the stored sample for the sample's interface and
// publishes a change notification. Samples for unconfigured interfaces are
// dropped. Returns whether the sample was accepted.
func (s *Store) Update(smp *sample.InterfaceSample) bool {
	if smp == nil {
		return false
	}
	s.mu.Lock()
	e, ok := s.entries[smp.Interface]
	if !ok {
		s.mu.Unlock()
		log.Printf("store: dropping sample for unconfigured interface %q", smp.Interface)
		return false
	}
	e.sample = smp
	e.status = sample.StatusActive
	s.mu.Unlock()

	s.notify(smp.Interface)
	return true
}

// SetStatus records a sampling-state transition (e.g. permanent failure) and
// notifies subscribers so clients see the change without waiting for data
// that will never arrive.
func (s *Store) SetStatus(iface string, status sample.InterfaceStatus) {
	s.mu.Lock()
	e, ok := s.entries[iface]
	if ok && e.status != status {
		e.status = status
		s.mu.Unlock()
		s.notify(iface)
		return
	}
	s.mu.Unlock()
}

// notify publishes a change without ever blocking the update path. A full
// channel drops the notification; the broadcaster reads the current snapshot
// at delivery time so a later notification carries the newer state anyway.
func (s *Store) notify(iface string) {
	select {
	case s.changes <- iface:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Changes returns the stream of interface names whose state changed.
func (s *Store) Changes() <-chan string {
	return s.changes
}

// Snapshot returns the current view for one interface. ok is false for
// unconfigured interfaces.
func (s *Store) Snapshot(iface string) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[iface]
	if !ok {
		return View{}, false
	}
	return View{
		Interface:   iface,
		CapacityBps: e.capacity,
		Status:      e.status,
		Sample:      e.sample,
	}, true
}

// SnapshotAll returns one view per configured interface in configuration
// order. Interfaces without data appear with a nil sample, never omitted.
func (s *Store) SnapshotAll() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]View, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		views = append(views, View{
			Interface:   name,
			CapacityBps: e.capacity,
			Status:      e.status,
			Sample:      e.sample,
		})
	}
	return views
}

// DroppedNotifications reports how many change notifications were discarded
// because the broadcaster fell behind.
func (s *Store) DroppedNotifications() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
