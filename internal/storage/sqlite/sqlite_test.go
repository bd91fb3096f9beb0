package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertTicksIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	msg := "Request timeout"
	batch := []monitor.Outcome{
		{ID: "t1", SiteID: "s1", RegionID: "eu", Status: monitor.StatusUp, ResponseTimeMs: 10,
			ObservedAt: time.Unix(1700000000, 0)},
		{ID: "t2", SiteID: "s1", RegionID: "eu", Status: monitor.StatusDown, ResponseTimeMs: 10000,
			ErrorMessage: &msg, ObservedAt: time.Unix(1700000001, 0)},
	}

	inserted, err := s.InsertTicks(ctx, batch)
	require.NoError(t, err)
	require.EqualValues(t, 2, inserted)

	// Replaying the same payload after a crash between insert and trim.
	inserted, err = s.InsertTicks(ctx, batch)
	require.NoError(t, err)
	require.Zero(t, inserted)

	count, err := s.CountTicks(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AddSite(ctx, monitor.Site{ID: "s2", URL: "https://b.example"}))
	require.NoError(t, s.AddSite(ctx, monitor.Site{ID: "s1", URL: "https://old.example"}))
	require.NoError(t, s.AddSite(ctx, monitor.Site{ID: "s1", URL: "https://a.example"}))
	require.NoError(t, s.AddRegion(ctx, "us"))
	require.NoError(t, s.AddRegion(ctx, "eu"))
	require.NoError(t, s.AddRegion(ctx, "eu"))

	sites, err := s.ListSites(ctx)
	require.NoError(t, err)
	require.Equal(t, []monitor.Site{
		{ID: "s1", URL: "https://a.example"},
		{ID: "s2", URL: "https://b.example"},
	}, sites)

	regions, err := s.ListRegions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"eu", "us"}, regions)
}

func TestEmptyRegistry(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	sites, err := s.ListSites(context.Background())
	require.NoError(t, err)
	require.Empty(t, sites)
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{DSN: "  "})
	require.EqualError(t, err, "empty SQLite DSN")
}

func TestNewAcceptsPrefixedPath(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/uptime.db"
	s, err := New(context.Background(), Config{DSN: "sqlite://" + path})
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestCustomTicksTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(ctx, Config{DSN: ":memory:", TicksTable: "probe_ticks"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	n, err := s.InsertTicks(ctx, []monitor.Outcome{
		{ID: "t1", SiteID: "s1", RegionID: "eu", Status: monitor.StatusUp, ObservedAt: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	var rows int64
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM probe_ticks;`).Scan(&rows))
	require.EqualValues(t, 1, rows)

	var defaults int64
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'website_ticks';`).Scan(&defaults))
	require.Zero(t, defaults)
}

func TestNewRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{DSN: ":memory:", TicksTable: "ticks; DROP TABLE websites"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid table name")
}
