package monitor

import (
	"context"
	"time"
)

// SiteRegistry lists the sites to be checked on each dispatch cycle.
type SiteRegistry interface {
	ListSites(ctx context.Context) ([]Site, error)
}

// RegionRegistry lists the regions that need a consumer group.
type RegionRegistry interface {
	ListRegions(ctx context.Context) ([]string, error)
}

// WorkLog is an append-only log with consumer-group semantics. Claimed
// entries stay pending for the group until acknowledged.
type WorkLog interface {
	Append(ctx context.Context, site Site) (string, error)
	CreateGroup(ctx context.Context, groupID string) error
	Claim(ctx context.Context, groupID, consumerID string, maxCount int) ([]RawEntry, error)
	Acknowledge(ctx context.Context, groupID, entryID string) error
}

// PendingClaimer recovers entries that were delivered but never acknowledged.
// Work logs that cannot redeliver pending entries simply don't implement it.
type PendingClaimer interface {
	// ClaimOwnPending returns entries still pending for consumerID whose ids
	// follow after. An after of "0" starts at the beginning.
	ClaimOwnPending(ctx context.Context, groupID, consumerID, after string, maxCount int) ([]RawEntry, error)
	// ClaimStale transfers entries idle longer than minIdle to consumerID.
	ClaimStale(ctx context.Context, groupID, consumerID string, minIdle time.Duration, maxCount int) ([]RawEntry, error)
}

// RawEntry is an undecoded work log entry: the log-assigned id plus its
// field/value pairs as delivered by the store.
type RawEntry struct {
	ID     string
	Fields map[string]any
}

// OutcomeQueue is a durable FIFO buffer between workers and the batch consumer.
type OutcomeQueue interface {
	Push(ctx context.Context, outcome Outcome) error
	Len(ctx context.Context) (int64, error)
	// Peek returns up to n of the oldest items without removing them.
	Peek(ctx context.Context, n int) ([][]byte, error)
	// Trim removes exactly n items from the head.
	Trim(ctx context.Context, n int) error
}

// DrainLock guards the peek/insert/trim section across consumer replicas.
type DrainLock interface {
	// Acquire returns ErrLeaseHeld when another holder owns the lease.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// TickStore is the permanent store. InsertTicks must skip rows whose id
// already exists and report how many rows were actually written.
type TickStore interface {
	InsertTicks(ctx context.Context, ticks []Outcome) (int64, error)
}

// Prober performs one HTTP check. It never returns an error: transport
// failures are DOWN results.
type Prober interface {
	Probe(ctx context.Context, url string) ProbeResult
}

// Clock returns the current time and timer channels. Loops wait on After so
// tests can drive them without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces tick IDs.
type IDGenerator interface {
	NewID() (string, error)
}
