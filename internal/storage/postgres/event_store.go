// Package postgres stores analytics events in Postgres through pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/linkgate/internal/analytics"
)

// DefaultTable holds events for every page.
const DefaultTable = "link_analytics"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the Postgres connection pool used for analytics rows.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// EventStore writes and lists analytics rows.
type EventStore struct {
	pool  pool
	table string
}

// NewEventStore connects a pool using cfg.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &EventStore{pool: p, table: table}, nil
}

// NewEventStoreWithPool wraps an existing pool (primarily for testing).
func NewEventStoreWithPool(p pool, table string) (*EventStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Name implements analytics.Sink.
func (*EventStore) Name() string { return "postgres" }

// Close releases the pool. It satisfies analytics.Closer.
func (s *EventStore) Close(context.Context) error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *EventStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the events table and its page index if missing.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id                TEXT PRIMARY KEY,
	page              TEXT NOT NULL,
	referrer          TEXT NOT NULL DEFAULT '',
	readable_referrer TEXT NOT NULL DEFAULT '',
	user_agent        TEXT NOT NULL DEFAULT '',
	ip_address        TEXT NOT NULL DEFAULT '',
	event_ts          TIMESTAMPTZ NOT NULL,
	pathname          TEXT NOT NULL DEFAULT '',
	search_params     TEXT NOT NULL DEFAULT '',
	click_type        TEXT,
	link_id           TEXT,
	page_id           TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_page_ts_idx ON %[1]s (page, event_ts DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertEvent appends one row.
func (s *EventStore) InsertEvent(ctx context.Context, evt analytics.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("event store is not configured")
	}
	if evt.ID == "" {
		return fmt.Errorf("event id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	page,
	referrer,
	readable_referrer,
	user_agent,
	ip_address,
	event_ts,
	pathname,
	search_params,
	click_type,
	link_id,
	page_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table)

	args := []any{
		evt.ID,
		evt.Page,
		evt.Referrer,
		evt.ReadableReferrer,
		evt.UserAgent,
		evt.IPAddress,
		evt.Timestamp,
		evt.Pathname,
		evt.SearchParams,
		nullable(evt.ClickType),
		nullable(evt.LinkID),
		nullable(evt.PageID),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns rows for page, newest first.
func (s *EventStore) ListEvents(ctx context.Context, page string, limit, offset int) ([]analytics.Event, error) {
	query := fmt.Sprintf(`
SELECT id, page, referrer, readable_referrer, user_agent, ip_address, event_ts,
	pathname, search_params, COALESCE(click_type, ''), COALESCE(link_id, ''), COALESCE(page_id, '')
FROM %s
WHERE page = $1
ORDER BY event_ts DESC
LIMIT $2 OFFSET $3`, s.table)

	rows, err := s.pool.Query(ctx, query, page, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []analytics.Event{}
	for rows.Next() {
		var evt analytics.Event
		if err := rows.Scan(
			&evt.ID,
			&evt.Page,
			&evt.Referrer,
			&evt.ReadableReferrer,
			&evt.UserAgent,
			&evt.IPAddress,
			&evt.Timestamp,
			&evt.Pathname,
			&evt.SearchParams,
			&evt.ClickType,
			&evt.LinkID,
			&evt.PageID,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// CountEvents returns the number of rows for page.
func (s *EventStore) CountEvents(ctx context.Context, page string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE page = $1`, s.table)
	var n int
	if err := s.pool.QueryRow(ctx, query, page).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
