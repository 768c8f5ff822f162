// Package monitor defines core types shared across the change-detection subsystems.
package monitor

import (
	"net/http"
	"strings"
	"time"
)

// Capacity limits applied when configuration does not override them.
const (
	DefaultMaxLinks     = 8
	DefaultHistoryLimit = 5
)

// NoChangesSummary is recorded on baseline and unchanged snapshots.
const NoChangesSummary = "No changes detected since last check."

// SnapshotStatus reports whether the page could be fetched during a check.
type SnapshotStatus string

// Snapshot status values persisted in the snapshot store.
const (
	SnapshotStatusOK    SnapshotStatus = "ok"
	SnapshotStatusError SnapshotStatus = "error"
)

// Link is one monitored target plus the cached outcome of its latest check.
type Link struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Label       string          `json:"label"`
	Project     string          `json:"project"`
	Tags        []string        `json:"tags"`
	CreatedAt   time.Time       `json:"created_at"`
	LastStatus  *SnapshotStatus `json:"last_status"`
	LastSummary *string         `json:"last_summary"`
	LastChecked *time.Time      `json:"last_checked"`
}

// LinkPatch carries the editable link fields. Nil fields are left unchanged.
type LinkPatch struct {
	Label   *string
	Project *string
}

// Snapshot is a single immutable check outcome for a link.
type Snapshot struct {
	ID          string         `json:"id"`
	LinkID      string         `json:"link_id"`
	CheckedAt   time.Time      `json:"checked_at"`
	Status      SnapshotStatus `json:"status"`
	Fingerprint string         `json:"fingerprint"`
	Content     string         `json:"-"`
	DiffMarkup  *string        `json:"diff_html"`
	Summary     *string        `json:"summary"`
	Changed     bool           `json:"changed"`
	ArchiveURI  *string        `json:"archive_uri,omitempty"`
}

// CheckResult mirrors the snapshot a check just persisted.
type CheckResult struct {
	SnapshotID string         `json:"snapshot_id"`
	Status     SnapshotStatus `json:"status"`
	Changed    bool           `json:"changed"`
	Summary    *string        `json:"summary"`
	DiffMarkup *string        `json:"diff_html"`
	CheckedAt  time.Time      `json:"checked_at"`
}

// ResultFromSnapshot projects a persisted snapshot into the caller-facing result.
func ResultFromSnapshot(s Snapshot) CheckResult {
	return CheckResult{
		SnapshotID: s.ID,
		Status:     s.Status,
		Changed:    s.Changed,
		Summary:    s.Summary,
		DiffMarkup: s.DiffMarkup,
		CheckedAt:  s.CheckedAt,
	}
}

// HealthStatus is the aggregate dependency report served by the health endpoint.
type HealthStatus struct {
	Backend   string    `json:"backend"`
	Database  string    `json:"database"`
	LLM       string    `json:"llm"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchResponse is the raw page returned by a Fetcher.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Attempts    int
	Duration    time.Duration
}

// Normalized is the canonical text form of a page plus its fingerprint.
type Normalized struct {
	Text        string
	Fingerprint string
}

// Diff is the rendered difference between two normalized texts.
type Diff struct {
	// Markup is the annotated HTML rendering served to clients.
	Markup string
	// Unified is a compact plain-text unified diff used as summarizer input.
	Unified string
	Added   int
	Removed int
}

// Empty reports whether the diff carries no changed lines.
func (d Diff) Empty() bool {
	return d.Markup == "" || (d.Added == 0 && d.Removed == 0)
}

// Apply returns l with patch applied. URL and tags are immutable; an empty
// label resets the label to the URL.
func (l Link) Apply(patch LinkPatch) Link {
	if patch.Label != nil {
		l.Label = strings.TrimSpace(*patch.Label)
		if l.Label == "" {
			l.Label = l.URL
		}
	}
	if patch.Project != nil {
		l.Project = strings.TrimSpace(*patch.Project)
	}
	return l
}
