package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/storage/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "webmonitor.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) monitor.Store { return openTestStore(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.ErrorContains(t, err, "path is required")
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateLink(ctx, storetest.NewLink(1), monitor.DefaultMaxLinks))
	require.NoError(t, s.AppendSnapshot(ctx, storetest.NewSnapshot("link-01", 1), monitor.DefaultHistoryLimit))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	link, err := reopened.GetLink(ctx, "link-01")
	require.NoError(t, err)
	require.NotNil(t, link.LastStatus)
	latest, err := reopened.LatestSnapshot(ctx, "link-01")
	require.NoError(t, err)
	require.Equal(t, "content 1", latest.Content)
}

func TestForeignKeysCascade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateLink(ctx, storetest.NewLink(1), monitor.DefaultMaxLinks))
	require.NoError(t, s.AppendSnapshot(ctx, storetest.NewSnapshot("link-01", 1), monitor.DefaultHistoryLimit))

	_, err := s.DB().ExecContext(ctx, `DELETE FROM links WHERE id = ?`, "link-01")
	require.NoError(t, err)

	var remaining int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&remaining))
	require.Zero(t, remaining)
}

func TestListLinksEmptyIsNotNil(t *testing.T) {
	t.Parallel()

	links, err := openTestStore(t).ListLinks(context.Background())
	require.NoError(t, err)
	require.NotNil(t, links)
	require.Empty(t, links)
}
