package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/commandxml/internal/storage"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordAssignsID(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	id, err := j.Record(ctx, Run{Command: "SayHello", Mode: ModeForeground, Status: StatusSucceeded})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	runs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "SayHello", runs[0].Command)
	assert.Empty(t, runs[0].Error)
	assert.False(t, runs[0].StartedAt.IsZero())
}

func TestRecentNewestFirst(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, name := range []string{"A", "B", "C"} {
		_, err := j.Record(ctx, Run{
			Command:    name,
			Mode:       ModeBackground,
			Status:     StatusFailed,
			Error:      "boom",
			DocDigest:  "abc",
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			FinishedAt: base.Add(time.Duration(i)*time.Second + time.Millisecond),
		})
		require.NoError(t, err)
	}

	runs, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "C", runs[0].Command)
	assert.Equal(t, "B", runs[1].Command)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Equal(t, "abc", runs[0].DocDigest)
	assert.Equal(t, ModeBackground, runs[0].Mode)
}

func TestCount(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	for _, name := range []string{"A", "A", "B"} {
		_, err := j.Record(ctx, Run{Command: name, Mode: ModeForeground, Status: StatusSucceeded})
		require.NoError(t, err)
	}

	n, err := j.Count(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = j.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGetAndByDigest(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	first, err := j.Record(ctx, Run{
		Command:    "SayHello",
		Mode:       ModeForeground,
		Status:     StatusSucceeded,
		DocDigest:  "abc",
		StartedAt:  base,
		FinishedAt: base.Add(100 * time.Millisecond),
	})
	require.NoError(t, err)
	_, err = j.Record(ctx, Run{
		Command:    "ThrowError",
		Mode:       ModeForeground,
		Status:     StatusFailed,
		Error:      "panic: boom",
		DocDigest:  "abc",
		StartedAt:  base.Add(time.Second),
		FinishedAt: base.Add(1200 * time.Millisecond),
	})
	require.NoError(t, err)
	_, err = j.Record(ctx, Run{Command: "End", Mode: ModeForeground, Status: StatusSucceeded, DocDigest: "def"})
	require.NoError(t, err)

	run, err := j.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "SayHello", run.Command)
	assert.True(t, base.Equal(run.StartedAt))
	assert.Equal(t, 100*time.Millisecond, run.FinishedAt.Sub(run.StartedAt))

	_, err = j.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := j.ByDigest(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "SayHello", runs[0].Command)
	assert.Equal(t, "panic: boom", runs[1].Error)
}

func TestRecentOrdersSubsecondTimestamps(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 5, 0, time.UTC)

	// .1s and .12s would misorder with trailing zeros trimmed.
	for i, offset := range []time.Duration{120 * time.Millisecond, 100 * time.Millisecond} {
		_, err := j.Record(ctx, Run{
			ID:         uuid.NewString(),
			Command:    []string{"later", "earlier"}[i],
			Mode:       ModeForeground,
			Status:     StatusSucceeded,
			StartedAt:  base.Add(offset),
			FinishedAt: base.Add(offset),
		})
		require.NoError(t, err)
	}

	runs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "later", runs[0].Command)
}
