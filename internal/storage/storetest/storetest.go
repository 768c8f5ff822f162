// Package storetest holds behavioral tests shared by every monitor.Store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Factory returns a fresh, empty store. The store is closed by the caller's cleanup.
type Factory func(t *testing.T) monitor.Store

var baseTime = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

// Run exercises the store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := map[string]func(*testing.T, monitor.Store){
		"list keeps insertion order":       testListOrder,
		"capacity is enforced":             testCapacity,
		"concurrent creates respect limit": testConcurrentCapacity,
		"duplicate url is rejected":        testDuplicate,
		"get missing link":                 testGetMissing,
		"update link":                      testUpdate,
		"delete cascades to snapshots":     testDeleteCascade,
		"append evicts oldest":             testAppendEvicts,
		"append refreshes link cache":      testAppendUpdatesCache,
		"append for missing link":          testAppendMissingLink,
		"snapshot fields round trip":       testSnapshotRoundTrip,
		"latest without history":           testLatestEmpty,
		"history limit":                    testHistoryLimit,
		"delete snapshots":                 testDeleteSnapshots,
		"ping":                             testPing,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

// NewLink builds a link fixture.
func NewLink(n int) monitor.Link {
	return monitor.Link{
		ID:        fmt.Sprintf("link-%02d", n),
		URL:       fmt.Sprintf("https://example.com/page/%d", n),
		Label:     fmt.Sprintf("Page %d", n),
		Project:   "pricing",
		Tags:      []string{"watch", fmt.Sprintf("n%d", n)},
		CreatedAt: baseTime.Add(time.Duration(n) * time.Second),
	}
}

// NewSnapshot builds an ok, unchanged snapshot fixture checked n seconds after the base time.
func NewSnapshot(linkID string, n int) monitor.Snapshot {
	summary := monitor.NoChangesSummary
	return monitor.Snapshot{
		ID:          fmt.Sprintf("%s-snap-%02d", linkID, n),
		LinkID:      linkID,
		CheckedAt:   baseTime.Add(time.Duration(n) * time.Second),
		Status:      monitor.SnapshotStatusOK,
		Fingerprint: fmt.Sprintf("fp-%d", n),
		Content:     fmt.Sprintf("content %d", n),
		Summary:     &summary,
	}
}

func mustCreate(t *testing.T, s monitor.Store, link monitor.Link) {
	t.Helper()
	require.NoError(t, s.CreateLink(context.Background(), link, monitor.DefaultMaxLinks))
}

func testListOrder(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	for _, n := range []int{3, 1, 2} {
		mustCreate(t, s, NewLink(n))
	}
	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 3)
	require.Equal(t, []string{"link-03", "link-01", "link-02"}, []string{links[0].ID, links[1].ID, links[2].ID})

	got := links[1]
	want := NewLink(1)
	require.Equal(t, want.URL, got.URL)
	require.Equal(t, want.Label, got.Label)
	require.Equal(t, want.Project, got.Project)
	require.Equal(t, want.Tags, got.Tags)
	require.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.Nil(t, got.LastStatus)
	require.Nil(t, got.LastSummary)
	require.Nil(t, got.LastChecked)
}

func testCapacity(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	for n := 1; n <= monitor.DefaultMaxLinks; n++ {
		mustCreate(t, s, NewLink(n))
	}
	err := s.CreateLink(ctx, NewLink(9), monitor.DefaultMaxLinks)
	require.ErrorIs(t, err, monitor.ErrCapacityExceeded)

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, monitor.DefaultMaxLinks)

	require.NoError(t, s.DeleteLink(ctx, "link-01"))
	require.NoError(t, s.CreateLink(ctx, NewLink(9), monitor.DefaultMaxLinks))
}

func testConcurrentCapacity(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	const attempts = 20
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		full    atomic.Int32
	)
	for n := 0; n < attempts; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.CreateLink(ctx, NewLink(n), monitor.DefaultMaxLinks)
			switch {
			case err == nil:
				created.Add(1)
			case isCapacity(err):
				full.Add(1)
			}
		}(n)
	}
	wg.Wait()

	require.Equal(t, int32(monitor.DefaultMaxLinks), created.Load())
	require.Equal(t, int32(attempts-monitor.DefaultMaxLinks), full.Load())
	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, monitor.DefaultMaxLinks)
}

func testDuplicate(t *testing.T, s monitor.Store) {
	mustCreate(t, s, NewLink(1))
	dup := NewLink(2)
	dup.URL = NewLink(1).URL
	require.ErrorIs(t, s.CreateLink(context.Background(), dup, monitor.DefaultMaxLinks), monitor.ErrDuplicate)
}

func testGetMissing(t *testing.T, s monitor.Store) {
	_, err := s.GetLink(context.Background(), "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func testUpdate(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	link := NewLink(1)
	mustCreate(t, s, link)

	label, project := "Renamed", "docs"
	updated, err := s.UpdateLink(ctx, link.ID, monitor.LinkPatch{Label: &label, Project: &project})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Label)
	require.Equal(t, "docs", updated.Project)
	require.Equal(t, link.URL, updated.URL)
	require.Equal(t, link.Tags, updated.Tags)

	updated, err = s.UpdateLink(ctx, link.ID, monitor.LinkPatch{})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Label)
	require.Equal(t, "docs", updated.Project)

	empty := ""
	updated, err = s.UpdateLink(ctx, link.ID, monitor.LinkPatch{Label: &empty})
	require.NoError(t, err)
	require.Equal(t, link.URL, updated.Label)

	got, err := s.GetLink(ctx, link.ID)
	require.NoError(t, err)
	require.Equal(t, link.URL, got.Label)

	_, err = s.UpdateLink(ctx, "missing", monitor.LinkPatch{Label: &label})
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func testDeleteCascade(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewLink(1))
	mustCreate(t, s, NewLink(2))
	for n := 1; n <= 3; n++ {
		require.NoError(t, s.AppendSnapshot(ctx, NewSnapshot("link-01", n), monitor.DefaultHistoryLimit))
	}
	require.NoError(t, s.AppendSnapshot(ctx, NewSnapshot("link-02", 1), monitor.DefaultHistoryLimit))

	require.NoError(t, s.DeleteLink(ctx, "link-01"))
	_, err := s.GetLink(ctx, "link-01")
	require.ErrorIs(t, err, monitor.ErrNotFound)
	_, err = s.History(ctx, "link-01", monitor.DefaultHistoryLimit)
	require.ErrorIs(t, err, monitor.ErrNotFound)
	_, err = s.LatestSnapshot(ctx, "link-01")
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.ErrorIs(t, s.DeleteLink(ctx, "link-01"), monitor.ErrNotFound)

	other, err := s.History(ctx, "link-02", monitor.DefaultHistoryLimit)
	require.NoError(t, err)
	require.Len(t, other, 1)

	// The URL is free again once the link is gone.
	mustCreate(t, s, NewLink(1))
}

func testAppendEvicts(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewLink(1))
	for n := 1; n <= 7; n++ {
		require.NoError(t, s.AppendSnapshot(ctx, NewSnapshot("link-01", n), monitor.DefaultHistoryLimit))
		history, err := s.History(ctx, "link-01", monitor.DefaultHistoryLimit)
		require.NoError(t, err)
		require.Len(t, history, min(n, monitor.DefaultHistoryLimit))
	}

	history, err := s.History(ctx, "link-01", monitor.DefaultHistoryLimit)
	require.NoError(t, err)
	ids := make([]string, 0, len(history))
	for _, snap := range history {
		ids = append(ids, snap.ID)
	}
	require.Equal(t, []string{
		"link-01-snap-07", "link-01-snap-06", "link-01-snap-05", "link-01-snap-04", "link-01-snap-03",
	}, ids)
	for i := 1; i < len(history); i++ {
		require.True(t, history[i-1].CheckedAt.After(history[i].CheckedAt))
	}
}

func testAppendUpdatesCache(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewLink(1))
	require.NoError(t, s.AppendSnapshot(ctx, NewSnapshot("link-01", 1), monitor.DefaultHistoryLimit))

	reason := "Could not fetch content (403)"
	failed := NewSnapshot("link-01", 2)
	failed.Status = monitor.SnapshotStatusError
	failed.Summary = &reason
	require.NoError(t, s.AppendSnapshot(ctx, failed, monitor.DefaultHistoryLimit))

	link, err := s.GetLink(ctx, "link-01")
	require.NoError(t, err)
	require.NotNil(t, link.LastStatus)
	require.Equal(t, monitor.SnapshotStatusError, *link.LastStatus)
	require.NotNil(t, link.LastSummary)
	require.Equal(t, reason, *link.LastSummary)
	require.NotNil(t, link.LastChecked)
	require.True(t, failed.CheckedAt.Equal(*link.LastChecked))

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Equal(t, monitor.SnapshotStatusError, *links[0].LastStatus)
}

func testAppendMissingLink(t *testing.T, s monitor.Store) {
	err := s.AppendSnapshot(context.Background(), NewSnapshot("ghost", 1), monitor.DefaultHistoryLimit)
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func testSnapshotRoundTrip(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewLink(1))

	markup := `<span class="diff-add">+new</span>`
	summary := "The price rose."
	archive := "memory://pages/link-01/fp.html"
	snap := NewSnapshot("link-01", 1)
	snap.Changed = true
	snap.DiffMarkup = &markup
	snap.Summary = &summary
	snap.ArchiveURI = &archive
	require.NoError(t, s.AppendSnapshot(ctx, snap, monitor.DefaultHistoryLimit))

	got, err := s.LatestSnapshot(ctx, "link-01")
	require.NoError(t, err)
	require.Equal(t, snap.ID, got.ID)
	require.Equal(t, snap.LinkID, got.LinkID)
	require.True(t, snap.CheckedAt.Equal(got.CheckedAt))
	require.Equal(t, time.UTC, got.CheckedAt.Location())
	require.Equal(t, snap.Status, got.Status)
	require.Equal(t, snap.Fingerprint, got.Fingerprint)
	require.Equal(t, snap.Content, got.Content)
	require.True(t, got.Changed)
	require.Equal(t, markup, *got.DiffMarkup)
	require.Equal(t, summary, *got.Summary)
	require.Equal(t, archive, *got.ArchiveURI)

	plain := NewSnapshot("link-01", 2)
	plain.Summary = nil
	require.NoError(t, s.AppendSnapshot(ctx, plain, monitor.DefaultHistoryLimit))
	got, err = s.LatestSnapshot(ctx, "link-01")
	require.NoError(t, err)
	require.Nil(t, got.DiffMarkup)
	require.Nil(t, got.Summary)
	require.Nil(t, got.ArchiveURI)
	require.False(t, got.Changed)
}

func testLatestEmpty(t *testing.T, s monitor.Store) {
	mustCreate(t, s, NewLink(1))
	_, err := s.LatestSnapshot(context.Background(), "link-01")
	require.ErrorIs(t, err, monitor.ErrNotFound)

	history, err := s.History(context.Background(), "link-01", monitor.DefaultHistoryLimit)
	require.NoError(t, err)
	require.Empty(t, history)
}

func testHistoryLimit(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewLink(1))
	for n := 1; n <= 4; n++ {
		require.NoError(t, s.AppendSnapshot(ctx, NewSnapshot("link-01", n), monitor.DefaultHistoryLimit))
	}
	history, err := s.History(ctx, "link-01", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "link-01-snap-04", history[0].ID)
	require.Equal(t, "link-01-snap-03", history[1].ID)
}

func testDeleteSnapshots(t *testing.T, s monitor.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewLink(1))
	require.NoError(t, s.AppendSnapshot(ctx, NewSnapshot("link-01", 1), monitor.DefaultHistoryLimit))
	require.NoError(t, s.DeleteSnapshots(ctx, "link-01"))

	history, err := s.History(ctx, "link-01", monitor.DefaultHistoryLimit)
	require.NoError(t, err)
	require.Empty(t, history)
	_, err = s.GetLink(ctx, "link-01")
	require.NoError(t, err)
}

func testPing(t *testing.T, s monitor.Store) {
	require.NoError(t, s.Ping(context.Background()))
}

func isCapacity(err error) bool {
	return errors.Is(err, monitor.ErrCapacityExceeded)
}
