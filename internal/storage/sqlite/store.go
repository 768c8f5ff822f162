// Package sqlite implements monitor.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/storage/migrations"
)

const linkColumns = `id, url, label, project, tags, created_at, last_status, last_summary, last_checked`

const snapshotColumns = `id, link_id, checked_at, status, fingerprint, content, diff_html, summary, changed, archive_uri`

// Config controls how the database file is opened.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store implements monitor.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at cfg.Path and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf(
		"%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate",
		cfg.Path, busy.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// contending for the file lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if err := migrations.Up(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for schema inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateLink inserts link only while fewer than maxLinks links exist. The
// count and the insert are one statement.
func (s *Store) CreateLink(ctx context.Context, link monitor.Link, maxLinks int) error {
	tags, err := encodeTags(link.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO links (id, url, label, project, tags, created_at)
SELECT ?, ?, ?, ?, ?, ?
WHERE (SELECT COUNT(*) FROM links) < ?`,
		link.ID, link.URL, link.Label, link.Project, tags, link.CreatedAt.UnixMicro(), maxLinks,
	)
	if err != nil {
		if isUniqueViolation(err, "links.url") {
			return fmt.Errorf("create link %s: %w", link.URL, monitor.ErrDuplicate)
		}
		return fmt.Errorf("insert link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("create link: %w", monitor.ErrCapacityExceeded)
	}
	return nil
}

// UpdateLink applies patch inside a transaction and returns the stored result.
func (s *Store) UpdateLink(ctx context.Context, id string, patch monitor.LinkPatch) (monitor.Link, error) {
	var updated monitor.Link
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		link, err := scanLink(tx.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update link %s: %w", id, monitor.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load link: %w", err)
		}
		updated = link.Apply(patch)
		if _, err := tx.ExecContext(ctx,
			`UPDATE links SET label = ?, project = ? WHERE id = ?`,
			updated.Label, updated.Project, id,
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

// DeleteLink removes the link and its snapshots in one transaction.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE link_id = ?`, id); err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete link: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete link: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("delete link %s: %w", id, monitor.ErrNotFound)
		}
		return nil
	})
}

// GetLink fetches a link by ID.
func (s *Store) GetLink(ctx context.Context, id string) (monitor.Link, error) {
	link, err := scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return monitor.Link{}, fmt.Errorf("get link %s: %w", id, monitor.ErrNotFound)
	}
	if err != nil {
		return monitor.Link{}, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

// ListLinks returns every link in insertion order.
func (s *Store) ListLinks(ctx context.Context) ([]monitor.Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM links ORDER BY seq`)
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
// oldest rows beyond limit in a single transaction.
func (s *Store) AppendSnapshot(ctx context.Context, snap monitor.Snapshot, limit int) error {
	if limit <= 0 {
		limit = monitor.DefaultHistoryLimit
	}
	checkedAt := snap.CheckedAt.UnixMicro()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE links SET last_status = ?, last_summary = ?, last_checked = ? WHERE id = ?`,
			string(snap.Status), nullString(snap.Summary), checkedAt, snap.LinkID,
		)
		if err != nil {
			return fmt.Errorf("update link cache: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update link cache: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("append snapshot for %s: %w", snap.LinkID, monitor.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshots (`+snapshotColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.LinkID, checkedAt, string(snap.Status), snap.Fingerprint, snap.Content,
			nullString(snap.DiffMarkup), nullString(snap.Summary), snap.Changed, nullString(snap.ArchiveURI),
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
DELETE FROM snapshots
WHERE link_id = ?
  AND seq NOT IN (
    SELECT seq FROM snapshots WHERE link_id = ? ORDER BY checked_at DESC, seq DESC LIMIT ?
  )`,
			snap.LinkID, snap.LinkID, limit,
		); err != nil {
			return fmt.Errorf("evict snapshots: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the newest snapshot for linkID.
func (s *Store) LatestSnapshot(ctx context.Context, linkID string) (monitor.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, `
SELECT `+snapshotColumns+` FROM snapshots
WHERE link_id = ?
ORDER BY checked_at DESC, seq DESC
LIMIT 1`, linkID))
	if errors.Is(err, sql.ErrNoRows) {
		return monitor.Snapshot{}, fmt.Errorf("latest snapshot for %s: %w", linkID, monitor.ErrNotFound)
	}
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// History returns up to limit snapshots, newest first.
func (s *Store) History(ctx context.Context, linkID string, limit int) ([]monitor.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	var out []monitor.Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM links WHERE id = ?`, linkID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("history for %s: %w", linkID, monitor.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
SELECT `+snapshotColumns+` FROM snapshots
WHERE link_id = ?
ORDER BY checked_at DESC, seq DESC
LIMIT ?`, linkID, limit)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer rows.Close()

		out = []monitor.Snapshot{}
		for rows.Next() {
			snap, err := scanSnapshot(rows)
			if err != nil {
				return fmt.Errorf("scan snapshot: %w", err)
			}
			out = append(out, snap)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSnapshots drops the history of linkID.
func (s *Store) DeleteSnapshots(ctx context.Context, linkID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE link_id = ?`, linkID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (monitor.Link, error) {
	var (
		link        monitor.Link
		tags        string
		createdAt   int64
		lastStatus  sql.NullString
		lastSummary sql.NullString
		lastChecked sql.NullInt64
	)
	if err := row.Scan(
		&link.ID, &link.URL, &link.Label, &link.Project, &tags, &createdAt,
		&lastStatus, &lastSummary, &lastChecked,
	); err != nil {
		return monitor.Link{}, err
	}
	if err := json.Unmarshal([]byte(tags), &link.Tags); err != nil {
		return monitor.Link{}, fmt.Errorf("decode tags: %w", err)
	}
	if link.Tags == nil {
		link.Tags = []string{}
	}
	link.CreatedAt = time.UnixMicro(createdAt).UTC()
	if lastStatus.Valid {
		status := monitor.SnapshotStatus(lastStatus.String)
		link.LastStatus = &status
	}
	link.LastSummary = stringPtr(lastSummary)
	if lastChecked.Valid {
		checked := time.UnixMicro(lastChecked.Int64).UTC()
		link.LastChecked = &checked
	}
	return link, nil
}

func scanSnapshot(row rowScanner) (monitor.Snapshot, error) {
	var (
		snap      monitor.Snapshot
		checkedAt int64
		status    string
		diffHTML  sql.NullString
		summary   sql.NullString
		archive   sql.NullString
	)
	if err := row.Scan(
		&snap.ID, &snap.LinkID, &checkedAt, &status, &snap.Fingerprint, &snap.Content,
		&diffHTML, &summary, &snap.Changed, &archive,
	); err != nil {
		return monitor.Snapshot{}, err
	}
	snap.CheckedAt = time.UnixMicro(checkedAt).UTC()
	snap.Status = monitor.SnapshotStatus(status)
	snap.DiffMarkup = stringPtr(diffHTML)
	snap.Summary = stringPtr(summary)
	snap.ArchiveURI = stringPtr(archive)
	return snap, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func isUniqueViolation(err error, column string) bool {
	var sqliteErr *sqlitedrv.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE && strings.Contains(sqliteErr.Error(), column)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
