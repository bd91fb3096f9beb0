package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
	"github.com/JakeFAU/realtime-uptime/internal/queue/memory"
	memstore "github.com/JakeFAU/realtime-uptime/internal/storage/memory"
)

// TestRunOnceAppendsOneEntryPerSite checks the single-site scenario end to end.
func TestRunOnceAppendsOneEntryPerSite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := memstore.NewStore(monitor.Site{ID: "s1", URL: "http://example.com"})
	log := memory.NewWorkLog()
	require.NoError(t, log.CreateGroup(ctx, "default"))

	d := New(registry, log, newFakeClock(), Config{}, zap.NewNop())
	n, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	raw, err := log.Claim(ctx, "default", "w1", 10)
	require.NoError(t, err)
	entries, err := monitor.ParseEntries(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "s1", entries[0].SiteID)
	require.Equal(t, "http://example.com", entries[0].URL)
}

func TestRunOnceEmptyRegistrySkips(t *testing.T) {
	t.Parallel()

	log := memory.NewWorkLog()
	d := New(memstore.NewStore(), log, newFakeClock(), Config{}, zap.NewNop())
	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, log.Len())
}

func TestRunOnceRegistryError(t *testing.T) {
	t.Parallel()

	registry := memstore.NewStore()
	registry.SetError(errors.New("db down"))
	d := New(registry, memory.NewWorkLog(), newFakeClock(), Config{}, zap.NewNop())

	_, err := d.RunOnce(context.Background())
	require.EqualError(t, err, "list sites: db down")
}

func TestRunOnceAppendErrorAbandonsCycle(t *testing.T) {
	t.Parallel()

	registry := memstore.NewStore(
		monitor.Site{ID: "s1", URL: "http://a.example"},
		monitor.Site{ID: "s2", URL: "http://b.example"},
		monitor.Site{ID: "s3", URL: "http://c.example"},
	)
	log := &failingLog{failAfter: 1}
	d := New(registry, log, newFakeClock(), Config{}, zap.NewNop())

	n, err := d.RunOnce(context.Background())
	require.EqualError(t, err, "append site s2: redis unavailable")
	require.Equal(t, 1, n)
}

// TestRunDispatchesImmediatelyAndOnTick verifies the startup run, a ticked
// run, and shutdown on cancel.
func TestRunDispatchesImmediatelyAndOnTick(t *testing.T) {
	t.Parallel()

	registry := memstore.NewStore(monitor.Site{ID: "s1", URL: "http://example.com"})
	log := memory.NewWorkLog()
	clock := newFakeClock()
	d := New(registry, log, clock, Config{Interval: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return log.Len() == 1 }, time.Second, 5*time.Millisecond)

	tick := clock.nextWait(t)
	tick <- time.Now()
	require.Eventually(t, func() bool { return log.Len() == 2 }, time.Second, 5*time.Millisecond)

	_ = clock.nextWait(t)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.Equal(t, 2, log.Len())
}

func TestRunReturnsWhenRegistryHangs(t *testing.T) {
	t.Parallel()

	registry := &hangingRegistry{started: make(chan struct{})}
	d := New(registry, memory.NewWorkLog(), newFakeClock(), Config{CycleTimeout: 50 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-registry.started:
	case <-time.After(time.Second):
		t.Fatal("registry was never queried")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher blocked on a hung registry after cancel")
	}
}

// hangingRegistry blocks until its context ends.
type hangingRegistry struct {
	once    sync.Once
	started chan struct{}
}

func (r *hangingRegistry) ListSites(ctx context.Context) ([]monitor.Site, error) {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeClock struct {
	waits chan chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{waits: make(chan chan time.Time, 16)}
}

func (c *fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.waits <- ch
	return ch
}

func (c *fakeClock) nextWait(t *testing.T) chan time.Time {
	t.Helper()
	select {
	case ch := <-c.waits:
		return ch
	case <-time.After(time.Second):
		t.Fatal("dispatcher never waited on the clock")
		return nil
	}
}

type failingLog struct {
	mu        sync.Mutex
	appended  int
	failAfter int
}

func (l *failingLog) Append(context.Context, monitor.Site) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appended >= l.failAfter {
		return "", errors.New("redis unavailable")
	}
	l.appended++
	return "1-0", nil
}

func (l *failingLog) CreateGroup(context.Context, string) error { return nil }

func (l *failingLog) Claim(context.Context, string, string, int) ([]monitor.RawEntry, error) {
	return nil, nil
}

func (l *failingLog) Acknowledge(context.Context, string, string) error { return nil }
