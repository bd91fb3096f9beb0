// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTicksTable   = "website_ticks"
	defaultSitesTable   = "websites"
	defaultRegionsTable = "regions"
)

var (
	_ monitor.SiteRegistry   = (*Store)(nil)
	_ monitor.RegionRegistry = (*Store)(nil)
	_ monitor.TickStore      = (*Store)(nil)
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	TicksTable      string
	SitesTable      string
	RegionsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// Store reads the site registry and bulk-inserts ticks.
type Store struct {
	pool    pool
	ticks   string
	sites   string
	regions string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &Store{
		pool:    p,
		ticks:   orDefault(cfg.TicksTable, defaultTicksTable),
		sites:   orDefault(cfg.SitesTable, defaultSitesTable),
		regions: orDefault(cfg.RegionsTable, defaultRegionsTable),
	}
	for _, table := range []string{s.ticks, s.sites, s.regions} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// ListSites returns every registered site.
func (s *Store) ListSites(ctx context.Context) ([]monitor.Site, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, url FROM %s ORDER BY id`, s.sites))
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []monitor.Site
	for rows.Next() {
		var site monitor.Site
		if err := rows.Scan(&site.ID, &site.URL); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// ListRegions returns the configured region identifiers.
func (s *Store) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, s.regions))
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}

// InsertTicks writes outcomes in one statement. Rows whose id already exists
// are skipped; the returned count covers only new rows.
func (s *Store) InsertTicks(ctx context.Context, outcomes []monitor.Outcome) (int64, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}
	var (
		ids       = make([]string, len(outcomes))
		siteIDs   = make([]string, len(outcomes))
		regionIDs = make([]string, len(outcomes))
		statuses  = make([]string, len(outcomes))
		latencies = make([]int64, len(outcomes))
		errMsgs   = make([]*string, len(outcomes))
		bodies    = make([]*string, len(outcomes))
		observed  = make([]time.Time, len(outcomes))
	)
	for i, o := range outcomes {
		ids[i] = o.ID
		siteIDs[i] = o.SiteID
		regionIDs[i] = o.RegionID
		statuses[i] = string(o.Status)
		latencies[i] = o.ResponseTimeMs
		errMsgs[i] = o.ErrorMessage
		bodies[i] = o.ResponseBody
		observed[i] = o.ObservedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	website_id,
	region_id,
	status,
	response_time,
	error_message,
	response_body,
	created_at
)
SELECT * FROM unnest(
	$1::text[],$2::text[],$3::text[],$4::text[],$5::bigint[],$6::text[],$7::text[],$8::timestamptz[]
)
ON CONFLICT (id) DO NOTHING`, s.ticks)

	tag, err := s.pool.Exec(ctx, query, ids, siteIDs, regionIDs, statuses, latencies, errMsgs, bodies, observed)
	if err != nil {
		return 0, fmt.Errorf("insert ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}
