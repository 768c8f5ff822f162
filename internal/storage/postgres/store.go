// Package postgres implements monitor.Store on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/storage/migrations"
)

const (
	uniqueViolation    = "23505"
	linksURLConstraint = "links_url_key"
)

const linkColumns = `id, url, label, project, tags, created_at, last_status, last_summary, last_checked`

const snapshotColumns = `id, link_id, checked_at, status, fingerprint, content, diff_html, summary, changed, archive_uri`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements monitor.Store on Postgres.
type Store struct {
	pool pool
}

// Open connects to Postgres, applies pending migrations, and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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

	db := stdlib.OpenDB(*poolCfg.ConnConfig.Copy())
	err = migrations.Up(db, migrations.Postgres)
	_ = db.Close()
	if err != nil {
		return nil, err
	}

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool. The schema is assumed to be current.
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// CreateLink inserts link while fewer than maxLinks links exist. The table
// lock serializes concurrent creates so the count cannot go stale.
func (s *Store) CreateLink(ctx context.Context, link monitor.Link, maxLinks int) error {
	tags := link.Tags
	if tags == nil {
		tags = []string{}
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE links IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock links: %w", err)
		}
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM links`).Scan(&count); err != nil {
			return fmt.Errorf("count links: %w", err)
		}
		if count >= maxLinks {
			return fmt.Errorf("create link: %w", monitor.ErrCapacityExceeded)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO links (id, url, label, project, tags, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			link.ID, link.URL, link.Label, link.Project, tags, link.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == linksURLConstraint {
			return fmt.Errorf("create link %s: %w", link.URL, monitor.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
		return nil
	})
}

// UpdateLink applies patch under a row lock and returns the stored result.
func (s *Store) UpdateLink(ctx context.Context, id string, patch monitor.LinkPatch) (monitor.Link, error) {
	var updated monitor.Link
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		link, err := scanLink(tx.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update link %s: %w", id, monitor.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load link: %w", err)
		}
		updated = link.Apply(patch)
		if _, err := tx.Exec(ctx,
			`UPDATE links SET label = $2, project = $3 WHERE id = $1`,
			id, updated.Label, updated.Project,
		); err != nil {
			return fmt.Errorf("update link: %w", err)
		}
		return nil
	})
	if err != nil {
		return monitor.Link{}, err
	}
	return updated, nil
}

// DeleteLink removes the link; snapshots go with it through ON DELETE CASCADE.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete link %s: %w", id, monitor.ErrNotFound)
	}
	return nil
}

// GetLink fetches a link by ID.
func (s *Store) GetLink(ctx context.Context, id string) (monitor.Link, error) {
	link, err := scanLink(s.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Link{}, fmt.Errorf("get link %s: %w", id, monitor.ErrNotFound)
	}
	if err != nil {
		return monitor.Link{}, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

// ListLinks returns every link in insertion order.
func (s *Store) ListLinks(ctx context.Context) ([]monitor.Link, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+linkColumns+` FROM links ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	links := []monitor.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// AppendSnapshot refreshes the link cache, inserts snap, and evicts the
// oldest rows beyond limit in a single transaction. The cache update locks
// the link row, which serializes appends for the same link.
func (s *Store) AppendSnapshot(ctx context.Context, snap monitor.Snapshot, limit int) error {
	if limit <= 0 {
		limit = monitor.DefaultHistoryLimit
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE links SET last_status = $2, last_summary = $3, last_checked = $4 WHERE id = $1`,
			snap.LinkID, string(snap.Status), snap.Summary, snap.CheckedAt,
		)
		if err != nil {
			return fmt.Errorf("update link cache: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("append snapshot for %s: %w", snap.LinkID, monitor.ErrNotFound)
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO snapshots (`+snapshotColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			snap.ID, snap.LinkID, snap.CheckedAt, string(snap.Status), snap.Fingerprint, snap.Content,
			snap.DiffMarkup, snap.Summary, snap.Changed, snap.ArchiveURI,
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}

		if _, err := tx.Exec(ctx, `
DELETE FROM snapshots
WHERE link_id = $1
  AND seq NOT IN (
    SELECT seq FROM snapshots WHERE link_id = $1 ORDER BY checked_at DESC, seq DESC LIMIT $2
  )`,
			snap.LinkID, limit,
		); err != nil {
			return fmt.Errorf("evict snapshots: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the newest snapshot for linkID.
func (s *Store) LatestSnapshot(ctx context.Context, linkID string) (monitor.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `
SELECT `+snapshotColumns+` FROM snapshots
WHERE link_id = $1
ORDER BY checked_at DESC, seq DESC
LIMIT 1`, linkID))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Snapshot{}, fmt.Errorf("latest snapshot for %s: %w", linkID, monitor.ErrNotFound)
	}
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// History returns up to limit snapshots, newest first.
func (s *Store) History(ctx context.Context, linkID string, limit int) ([]monitor.Snapshot, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM links WHERE id = $1)`, linkID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("history for %s: %w", linkID, monitor.ErrNotFound)
	}

	var bound *int
	if limit > 0 {
		bound = &limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+snapshotColumns+` FROM snapshots
WHERE link_id = $1
ORDER BY checked_at DESC, seq DESC
LIMIT $2`, linkID, bound)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := []monitor.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

// DeleteSnapshots drops the history of linkID.
func (s *Store) DeleteSnapshots(ctx context.Context, linkID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE link_id = $1`, linkID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanLink(row pgx.Row) (monitor.Link, error) {
	var (
		link        monitor.Link
		lastStatus  *string
		lastChecked *time.Time
	)
	if err := row.Scan(
		&link.ID, &link.URL, &link.Label, &link.Project, &link.Tags, &link.CreatedAt,
		&lastStatus, &link.LastSummary, &lastChecked,
	); err != nil {
		return monitor.Link{}, err
	}
	if link.Tags == nil {
		link.Tags = []string{}
	}
	link.CreatedAt = link.CreatedAt.UTC()
	if lastStatus != nil {
		status := monitor.SnapshotStatus(*lastStatus)
		link.LastStatus = &status
	}
	if lastChecked != nil {
		checked := lastChecked.UTC()
		link.LastChecked = &checked
	}
	return link, nil
}

func scanSnapshot(row pgx.Row) (monitor.Snapshot, error) {
	var (
		snap   monitor.Snapshot
		status string
	)
	if err := row.Scan(
		&snap.ID, &snap.LinkID, &snap.CheckedAt, &status, &snap.Fingerprint, &snap.Content,
		&snap.DiffMarkup, &snap.Summary, &snap.Changed, &snap.ArchiveURI,
	); err != nil {
		return monitor.Snapshot{}, err
	}
	snap.CheckedAt = snap.CheckedAt.UTC()
	snap.Status = monitor.SnapshotStatus(status)
	return snap, nil
}
