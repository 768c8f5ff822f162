package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(*testing.T) monitor.Store { return NewStore() })
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	link := storetest.NewLink(1)
	require.NoError(t, s.CreateLink(ctx, link, monitor.DefaultMaxLinks))
	link.Tags[0] = "mutated"

	got, err := s.GetLink(ctx, link.ID)
	require.NoError(t, err)
	require.Equal(t, "watch", got.Tags[0])

	got.Tags[0] = "mutated again"
	again, err := s.GetLink(ctx, link.ID)
	require.NoError(t, err)
	require.Equal(t, "watch", again.Tags[0])

	snap := storetest.NewSnapshot(link.ID, 1)
	require.NoError(t, s.AppendSnapshot(ctx, snap, monitor.DefaultHistoryLimit))
	*snap.Summary = "changed after append"
	latest, err := s.LatestSnapshot(ctx, link.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.NoChangesSummary, *latest.Summary)
}

func TestStoreCreateIgnoresCallerCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	link := storetest.NewLink(1)
	status := monitor.SnapshotStatusOK
	link.LastStatus = &status
	require.NoError(t, s.CreateLink(ctx, link, monitor.DefaultMaxLinks))

	got, err := s.GetLink(ctx, link.ID)
	require.NoError(t, err)
	require.Nil(t, got.LastStatus)
}
