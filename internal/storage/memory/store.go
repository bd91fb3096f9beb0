// Package memory provides an in-process registry and tick store for local
// development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var (
	_ monitor.SiteRegistry   = (*Store)(nil)
	_ monitor.RegionRegistry = (*Store)(nil)
	_ monitor.TickStore      = (*Store)(nil)
)

// Store keeps sites, regions and ticks in maps guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	sites   []monitor.Site
	regions []string
	ticks   map[string]monitor.Outcome
	order   []string
	err     error
}

// NewStore constructs a Store seeded with sites.
func NewStore(sites ...monitor.Site) *Store {
	return &Store{
		sites: append([]monitor.Site(nil), sites...),
		ticks: make(map[string]monitor.Outcome),
	}
}

// SetSites replaces the registry contents.
func (s *Store) SetSites(sites ...monitor.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = append([]monitor.Site(nil), sites...)
}

// SetRegions replaces the region list.
func (s *Store) SetRegions(regions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append([]string(nil), regions...)
}

// SetError makes every subsequent call fail with err until cleared with nil.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ListSites returns a copy of the registry.
func (s *Store) ListSites(_ context.Context) ([]monitor.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]monitor.Site(nil), s.sites...), nil
}

// ListRegions returns a copy of the region list.
func (s *Store) ListRegions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.regions...), nil
}

// InsertTicks stores outcomes whose id has not been seen before.
func (s *Store) InsertTicks(_ context.Context, outcomes []monitor.Outcome) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var inserted int64
	for _, o := range outcomes {
		if _, exists := s.ticks[o.ID]; exists {
			continue
		}
		s.ticks[o.ID] = o
		s.order = append(s.order, o.ID)
		inserted++
	}
	return inserted, nil
}

// Ticks returns persisted ticks in insertion order.
func (s *Store) Ticks() []monitor.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Outcome, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.ticks[id])
	}
	return out
}
