// Package sqlite implements the site registry and tick store on a local
// SQLite database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var (
	_ monitor.SiteRegistry   = (*Store)(nil)
	_ monitor.RegionRegistry = (*Store)(nil)
	_ monitor.TickStore      = (*Store)(nil)
)

const defaultTicksTable = "website_ticks"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and the tick table name.
type Config struct {
	DSN        string
	TicksTable string
}

// Store is a SQLite-backed registry and tick store.
type Store struct {
	db         *sql.DB
	ticksTable string
}

// New opens the database and creates the schema.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "/path/to/file.db"
//   - ":memory:"
func New(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	table := cfg.TicksTable
	if table == "" {
		table = defaultTicksTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, ticksTable: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS websites(
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS regions(
			id TEXT PRIMARY KEY
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			id TEXT PRIMARY KEY,
			website_id TEXT NOT NULL,
			region_id TEXT NOT NULL,
			status TEXT NOT NULL,
			response_time INTEGER NOT NULL,
			error_message TEXT,
			response_body TEXT,
			created_at TEXT NOT NULL
		);`, s.ticksTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddSite registers or updates a site.
func (s *Store) AddSite(ctx context.Context, site monitor.Site) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO websites(id, url) VALUES(?, ?)
		ON CONFLICT(id) DO UPDATE SET url = excluded.url;`,
		site.ID, site.URL)
	if err != nil {
		return fmt.Errorf("add site: %w", err)
	}
	return nil
}

// AddRegion registers a region.
func (s *Store) AddRegion(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO regions(id) VALUES(?);`, id); err != nil {
		return fmt.Errorf("add region: %w", err)
	}
	return nil
}

// ListSites returns every registered site.
func (s *Store) ListSites(ctx context.Context) ([]monitor.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM websites ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sites []monitor.Site
	for rows.Next() {
		var site monitor.Site
		if err := rows.Scan(&site.ID, &site.URL); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// ListRegions returns the registered region identifiers.
func (s *Store) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM regions ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var regions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, id)
	}
	return regions, rows.Err()
}

// InsertTicks writes outcomes in one transaction, ignoring ids that already
// exist.
func (s *Store) InsertTicks(ctx context.Context, outcomes []monitor.Outcome) (int64, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert ticks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s(
			id, website_id, region_id, status, response_time, error_message, response_body, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?);`, s.ticksTable))
	if err != nil {
		return 0, fmt.Errorf("prepare insert ticks: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var inserted int64
	for _, o := range outcomes {
		res, err := stmt.ExecContext(ctx,
			o.ID, o.SiteID, o.RegionID, string(o.Status), o.ResponseTimeMs,
			nullString(o.ErrorMessage), nullString(o.ResponseBody),
			o.ObservedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, fmt.Errorf("insert tick %s: %w", o.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert tick %s: %w", o.ID, err)
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert ticks: %w", err)
	}
	return inserted, nil
}

// CountTicks returns the number of persisted ticks.
func (s *Store) CountTicks(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, s.ticksTable)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
