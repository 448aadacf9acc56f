package snapshot

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-ir-watcher/internal/clock/system"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/storage/memory"
)

func page(pageHash, numbersHash string) monitor.NormalizedPage {
	return monitor.NormalizedPage{
		CleanText:     "Results",
		PageHash:      pageHash,
		NumbersHash:   numbersHash,
		SectionHashes: map[string]string{"0": "s"},
	}
}

func TestDecideCreatesThenDeduplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	clock := system.NewFixed(time.Date(2024, 3, 1, 9, 30, 5, 0, time.UTC))
	mgr := NewManager(store, blobs, clock, nil)

	first, err := mgr.Decide(ctx, Capture{CompanyID: 7, SourceURL: "https://a.example/ir", Page: page("p1", "n1"), Raw: []byte("<html>1</html>")})
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, ReasonCreated, first.Reason)
	require.Nil(t, first.Previous)
	require.Equal(t, "memory://raw/7/20240301T093005Z/page.html", first.Snapshot.RawBlobPath)
	blob, ok := blobs.Get("raw/7/20240301T093005Z/page.html")
	require.True(t, ok)
	require.Equal(t, "<html>1</html>", string(blob.Data))

	clock.Advance(time.Hour)
	again, err := mgr.Decide(ctx, Capture{CompanyID: 7, Page: page("p1", "n1"), Raw: []byte("<html>1</html>")})
	require.NoError(t, err)
	require.False(t, again.Changed)
	require.Equal(t, ReasonUnchanged, again.Reason)
	require.Equal(t, first.Snapshot.ID, again.Snapshot.ID)
	require.Len(t, blobs.Paths(), 1)

	snaps, err := store.ListSnapshots(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestDecideLinksPrevious(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	mgr := NewManager(store, memory.NewBlobStore(), system.NewFixed(time.Unix(0, 0)), nil)

	first, err := mgr.Decide(ctx, Capture{CompanyID: 1, Page: page("p", "n1")})
	require.NoError(t, err)
	second, err := mgr.Decide(ctx, Capture{CompanyID: 1, Page: page("p2", "n2")})
	require.NoError(t, err)
	require.True(t, second.Changed)
	require.Equal(t, first.Snapshot.ID, second.Previous.ID)
	require.NotEqual(t, first.Snapshot.ID, second.Snapshot.ID)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestDecideBlobFailureWritesNoRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	mgr := NewManager(store, failingBlobs{}, system.NewFixed(time.Unix(0, 0)), nil)

	_, err := mgr.Decide(ctx, Capture{CompanyID: 1, Page: page("p", "n")})
	require.ErrorContains(t, err, "disk full")
	latest, err := store.LatestSnapshot(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, latest)
}
