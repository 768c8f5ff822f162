package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinkApply(t *testing.T) {
	t.Parallel()

	base := Link{ID: "1", URL: "https://example.com", Label: "Home", Project: "site", Tags: []string{"a"}}
	label, project, blank := "  New  ", "docs", " "

	got := base.Apply(LinkPatch{Label: &label, Project: &project})
	require.Equal(t, "New", got.Label)
	require.Equal(t, "docs", got.Project)
	require.Equal(t, base.URL, got.URL)
	require.Equal(t, base.Tags, got.Tags)

	require.Equal(t, base, base.Apply(LinkPatch{}))
	require.Equal(t, "https://example.com", base.Apply(LinkPatch{Label: &blank}).Label)
	require.Equal(t, "Home", base.Label)
}

func TestResultFromSnapshot(t *testing.T) {
	t.Parallel()

	markup, summary := "<span>x</span>", "changed"
	snap := Snapshot{ID: "s1", Status: SnapshotStatusOK, Changed: true, DiffMarkup: &markup, Summary: &summary}
	res := ResultFromSnapshot(snap)
	require.Equal(t, "s1", res.SnapshotID)
	require.True(t, res.Changed)
	require.Equal(t, &markup, res.DiffMarkup)
	require.Equal(t, &summary, res.Summary)
}
