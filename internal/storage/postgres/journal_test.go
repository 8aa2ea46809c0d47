package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"intent-settlement/internal/events"
	"intent-settlement/internal/journal"
)

// setupJournal starts a postgres container and returns a migrated journal.
// The test is skipped when no container runtime is available.
func setupJournal(t *testing.T) *Journal {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("journal"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	j, err := OpenJournal(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	// Migrations must be re-runnable.
	require.NoError(t, Migrate(ctx, j.pool))
	return j
}

func mustEvent(t *testing.T, seq uint64, typ events.Type, at time.Time) events.Event {
	t.Helper()
	ev, err := events.New(seq, typ, at, map[string]any{"sequence": seq})
	require.NoError(t, err)
	return ev
}

func TestJournalAppendAndList(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var appended []events.Event
	for seq := uint64(1); seq <= 4; seq++ {
		typ := events.TypeIntentFilled
		if seq == 3 {
			typ = events.TypeBatchSettled
		}
		ev := mustEvent(t, seq, typ, at.Add(time.Duration(seq)*time.Minute))
		require.NoError(t, j.Append(ctx, ev))
		appended = append(appended, ev)
	}
	require.NoError(t, j.Append(ctx, appended[0]), "re-append is a no-op")

	list, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, appended[1].ID, list[1].ID)
	assert.JSONEq(t, string(appended[1].Data), string(list[1].Data))
	assert.True(t, appended[1].OccurredAt.Equal(list[1].OccurredAt))

	filled, err := j.List(ctx, journal.WithTypes(events.TypeIntentFilled), journal.WithAfterSequence(1))
	require.NoError(t, err)
	require.Len(t, filled, 2)
	assert.Equal(t, uint64(2), filled[0].Sequence)
	assert.Equal(t, uint64(4), filled[1].Sequence)

	latest, err := j.List(ctx, journal.WithSortOrder(journal.SortBySequenceDesc), journal.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, uint64(4), latest[0].Sequence)

	window, err := j.List(ctx, journal.WithSince(at.Add(2*time.Minute)), journal.WithUntil(at.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Len(t, window, 2)

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, uint64(4), stats.LastSequence)
	assert.Equal(t, 1, stats.ByType[events.TypeBatchSettled])
}

func TestJournalConflicts(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	at := time.Now().UTC()

	first := mustEvent(t, 1, events.TypeIntentFilled, at)
	require.NoError(t, j.Append(ctx, first))

	err := j.Append(ctx, mustEvent(t, 1, events.TypeIntentFilled, at))
	assert.ErrorIs(t, err, journal.ErrConflict)

	moved := first
	moved.Sequence = 2
	err = j.Append(ctx, moved)
	assert.ErrorIs(t, err, journal.ErrConflict)
}
