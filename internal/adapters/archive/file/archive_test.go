package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/sundial/internal/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func TestArchiveSaveAndLatest(t *testing.T) {
	t.Parallel()

	archive, err := NewArchive(t.TempDir(), fixedClock{now: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	for i, summary := range []string{"first sundown", "second sundown", "third sundown"} {
		require.NoError(t, archive.Save(ctx, domain.CheckpointState{
			WorkerID:     "apollo",
			At:           base.Add(time.Duration(i) * time.Hour),
			Summary:      summary,
			KeyDecisions: []string{"decided: keep going"},
			Reason:       "auto",
			TokensUsed:   int64(1000 * (i + 1)),
		}))
	}

	latest, err := archive.Latest(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, "third sundown", latest.Summary)
	assert.Equal(t, int64(3000), latest.TokensUsed)
	assert.Equal(t, base.Add(2*time.Hour), latest.At)
}

func TestArchiveLatestIsPerWorker(t *testing.T) {
	t.Parallel()

	archive, err := NewArchive(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	require.NoError(t, archive.Save(ctx, domain.CheckpointState{WorkerID: "apollo", At: at, Summary: "apollo state"}))
	require.NoError(t, archive.Save(ctx, domain.CheckpointState{WorkerID: "ergon", At: at.Add(time.Hour), Summary: "ergon state"}))

	latest, err := archive.Latest(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, "apollo state", latest.Summary)
}

func TestArchiveLatestNoPriorState(t *testing.T) {
	t.Parallel()

	archive, err := NewArchive(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = archive.Latest(context.Background(), "fresh-worker")
	require.ErrorIs(t, err, domain.ErrNoPriorState)
}

func TestArchiveLoadRejectsPathRefs(t *testing.T) {
	t.Parallel()

	archive, err := NewArchive(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = archive.Load(context.Background(), "../outside.json")
	require.Error(t, err)
}

func TestArchiveSaveFillsTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC)
	archive, err := NewArchive(t.TempDir(), fixedClock{now: now})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, archive.Save(ctx, domain.CheckpointState{WorkerID: "apollo", Summary: "untimed"}))

	latest, err := archive.Latest(ctx, "apollo")
	require.NoError(t, err)
	assert.Equal(t, now, latest.At)
}
