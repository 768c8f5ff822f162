package monitor

import (
	"context"
	"io"
	"time"
)

// LinkStore persists links and enforces the global capacity limit atomically.
type LinkStore interface {
	// CreateLink inserts link unless maxLinks live links already exist.
	CreateLink(ctx context.Context, link Link, maxLinks int) error
	UpdateLink(ctx context.Context, id string, patch LinkPatch) (Link, error)
	// DeleteLink removes the link and all of its snapshots.
	DeleteLink(ctx context.Context, id string) error
	GetLink(ctx context.Context, id string) (Link, error)
	// ListLinks returns links in insertion order.
	ListLinks(ctx context.Context) ([]Link, error)
}

// SnapshotStore persists the bounded, newest-first history of each link.
type SnapshotStore interface {
	// AppendSnapshot inserts snap, evicts the oldest entries beyond limit, and
	// refreshes the owning link's last-check cache in a single transaction.
	AppendSnapshot(ctx context.Context, snap Snapshot, limit int) error
	LatestSnapshot(ctx context.Context, linkID string) (Snapshot, error)
	History(ctx context.Context, linkID string, limit int) ([]Snapshot, error)
	DeleteSnapshots(ctx context.Context, linkID string) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	LinkStore
	SnapshotStore
	Ping(ctx context.Context) error
	Close() error
}

// Fetcher retrieves raw page content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Normalizer reduces raw content to canonical comparable text.
type Normalizer interface {
	Normalize(body []byte, contentType string) (Normalized, error)
}

// Differ computes a line-level diff between two normalized texts.
type Differ interface {
	// Diff returns ok=false when the texts carry no line differences.
	Diff(oldText, newText string) (d Diff, ok bool)
}

// Summarizer produces a natural-language description of a diff.
type Summarizer interface {
	Summarize(ctx context.Context, url string, diff Diff) (string, error)
	// Ping reports whether the summarization dependency is reachable.
	Ping(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests used as content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces link and snapshot IDs.
type IDGenerator interface {
	NewID() (string, error)
}
