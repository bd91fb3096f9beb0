// Package memory provides in-process work log and outcome queue
// implementations for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var (
	_ monitor.WorkLog        = (*WorkLog)(nil)
	_ monitor.PendingClaimer = (*WorkLog)(nil)
	_ monitor.OutcomeQueue   = (*OutcomeQueue)(nil)
)

type logEntry struct {
	id     string
	fields map[string]any
}

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
}

type group struct {
	cursor  int
	pending map[string]pendingEntry
}

// WorkLog mimics a stream with consumer groups: each group has its own
// cursor, delivered entries stay pending until acknowledged.
type WorkLog struct {
	mu      sync.Mutex
	entries []logEntry
	index   map[string]int
	groups  map[string]*group
	seq     int64
	now     func() time.Time
}

// NewWorkLog constructs an empty WorkLog.
func NewWorkLog() *WorkLog {
	return &WorkLog{
		index:  make(map[string]int),
		groups: make(map[string]*group),
		now:    time.Now,
	}
}

// Append adds an entry for site.
func (l *WorkLog) Append(ctx context.Context, site monitor.Site) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("append canceled: %w", err)
	}
	return l.AppendFields(map[string]any{
		monitor.FieldSiteID: site.ID,
		monitor.FieldURL:    site.URL,
	}), nil
}

// AppendFields adds an entry with arbitrary fields. Tests use it to inject
// malformed entries.
func (l *WorkLog) AppendFields(fields map[string]any) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := fmt.Sprintf("%d-0", l.seq)
	l.index[id] = len(l.entries)
	l.entries = append(l.entries, logEntry{id: id, fields: fields})
	return id
}

// CreateGroup registers groupID at the start of the log. Existing groups
// keep their cursor.
func (l *WorkLog) CreateGroup(_ context.Context, groupID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.groups[groupID]; ok {
		return nil
	}
	l.groups[groupID] = &group{pending: make(map[string]pendingEntry)}
	return nil
}

// Claim delivers up to maxCount entries the group has not seen yet.
func (l *WorkLog) Claim(ctx context.Context, groupID, consumerID string, maxCount int) ([]monitor.RawEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("claim canceled: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such consumer group %q", groupID)
	}
	var out []monitor.RawEntry
	for g.cursor < len(l.entries) && len(out) < maxCount {
		e := l.entries[g.cursor]
		g.cursor++
		g.pending[e.id] = pendingEntry{consumer: consumerID, deliveredAt: l.now()}
		out = append(out, monitor.RawEntry{ID: e.id, Fields: e.fields})
	}
	return out, nil
}

// ClaimOwnPending redelivers entries pending for consumerID in log order,
// starting after the entry id after ("0" or "" for the beginning).
func (l *WorkLog) ClaimOwnPending(
	_ context.Context,
	groupID, consumerID, after string,
	maxCount int,
) ([]monitor.RawEntry, error) {
	return l.claimPending(groupID, consumerID, after, maxCount, func(p pendingEntry) bool {
		return p.consumer == consumerID
	})
}

// ClaimStale moves entries idle for at least minIdle to consumerID.
func (l *WorkLog) ClaimStale(
	_ context.Context,
	groupID, consumerID string,
	minIdle time.Duration,
	maxCount int,
) ([]monitor.RawEntry, error) {
	cutoff := l.now().Add(-minIdle)
	return l.claimPending(groupID, consumerID, "", maxCount, func(p pendingEntry) bool {
		return !p.deliveredAt.After(cutoff)
	})
}

func (l *WorkLog) claimPending(
	groupID, consumerID, after string,
	maxCount int,
	match func(pendingEntry) bool,
) ([]monitor.RawEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such consumer group %q", groupID)
	}
	start := 0
	if pos, ok := l.index[after]; ok {
		start = min(pos+1, g.cursor)
	}
	var out []monitor.RawEntry
	for _, e := range l.entries[start:g.cursor] {
		if len(out) >= maxCount {
			break
		}
		p, pending := g.pending[e.id]
		if !pending || !match(p) {
			continue
		}
		g.pending[e.id] = pendingEntry{consumer: consumerID, deliveredAt: l.now()}
		out = append(out, monitor.RawEntry{ID: e.id, Fields: e.fields})
	}
	return out, nil
}

// Acknowledge clears entryID from the group's pending set.
func (l *WorkLog) Acknowledge(_ context.Context, groupID, entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupID]
	if !ok {
		return fmt.Errorf("NOGROUP no such consumer group %q", groupID)
	}
	delete(g.pending, entryID)
	return nil
}

// Pending reports how many entries are delivered but unacknowledged.
func (l *WorkLog) Pending(groupID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.groups[groupID]; ok {
		return len(g.pending)
	}
	return 0
}

// Len reports the number of entries ever appended.
func (l *WorkLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// OutcomeQueue is a mutex-guarded FIFO of encoded outcomes.
type OutcomeQueue struct {
	mu    sync.Mutex
	items [][]byte
}

// NewOutcomeQueue constructs an empty queue.
func NewOutcomeQueue() *OutcomeQueue {
	return &OutcomeQueue{}
}

// Push appends an encoded outcome.
func (q *OutcomeQueue) Push(ctx context.Context, outcome monitor.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push canceled: %w", err)
	}
	payload, err := monitor.EncodeOutcome(outcome)
	if err != nil {
		return err
	}
	q.PushRaw(payload)
	return nil
}

// PushRaw appends an already-encoded item.
func (q *OutcomeQueue) PushRaw(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, payload)
}

// Len returns the backlog length.
func (q *OutcomeQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Peek copies up to n head items.
func (q *OutcomeQueue) Peek(_ context.Context, n int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([][]byte, n)
	copy(out, q.items[:n])
	return out, nil
}

// Trim drops n head items.
func (q *OutcomeQueue) Trim(_ context.Context, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	q.items = append([][]byte(nil), q.items[n:]...)
	return nil
}
