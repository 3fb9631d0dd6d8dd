// ABOUTME: Tests for the SQLite store: ticks, leases, presence, activity
// ABOUTME: Covers the concurrency contracts (gap-free ticks, lease exclusivity)

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testLease(channelID, agentID string, tickID int64) *TurnLease {
	now := time.Now()
	return &TurnLease{
		ID:             uuid.New().String(),
		ChannelID:      channelID,
		AgentID:        agentID,
		TickID:         tickID,
		Mode:           LeaseModeAmbient,
		Status:         LeaseStatusPending,
		CreatedAt:      now,
		LeaseExpiresAt: now.Add(2 * time.Minute),
	}
}

func TestStore_CurrentTick_Materializes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tick, err := store.CurrentTick(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tick)

	// Repeated reads stay at 0
	tick, err = store.CurrentTick(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tick)
}

func TestStore_AdvanceTick(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tick, err := store.AdvanceTick(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tick)

	tick, err = store.AdvanceTick(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tick)

	// Other channels are independent
	tick, err = store.AdvanceTick(ctx, "chan-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tick)
}

func TestStore_AdvanceTick_AfterRead(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Materialize at 0 via read, then advance
	_, err := store.CurrentTick(ctx, "chan-1")
	require.NoError(t, err)

	tick, err := store.AdvanceTick(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tick)
}

func TestStore_AdvanceTick_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const n = 20
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tick, err := store.AdvanceTick(ctx, "chan-1")
			assert.NoError(t, err)
			results <- tick
		}()
	}
	wg.Wait()
	close(results)

	// N concurrent advances yield N distinct values with no gaps
	seen := make(map[int64]bool)
	for tick := range results {
		assert.False(t, seen[tick], "duplicate tick value %d", tick)
		seen[tick] = true
	}
	require.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing tick value %d", i)
	}

	final, err := store.CurrentTick(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), final)
}

func TestStore_CreateLease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lease := testLease("chan-1", "agent-a", 7)
	require.NoError(t, store.CreateLease(ctx, lease))

	got, err := store.GetLease(ctx, "chan-1", "agent-a", 7)
	require.NoError(t, err)
	assert.Equal(t, lease.ID, got.ID)
	assert.Equal(t, LeaseStatusPending, got.Status)
	assert.Equal(t, LeaseModeAmbient, got.Mode)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.FailedAt)
}

func TestStore_CreateLease_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLease(ctx, testLease("chan-1", "agent-a", 7)))

	err := store.CreateLease(ctx, testLease("chan-1", "agent-a", 7))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLeaseExists)

	// Different tick is a different triple
	require.NoError(t, store.CreateLease(ctx, testLease("chan-1", "agent-a", 8)))
	// So is a different agent
	require.NoError(t, store.CreateLease(ctx, testLease("chan-1", "agent-b", 7)))
}

func TestStore_CreateLease_ConcurrentSameTriple(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateLease(ctx, testLease("chan-1", "agent-a", 7))
			if err == nil {
				wins <- true
				return
			}
			assert.ErrorIs(t, err, ErrLeaseExists)
		}()
	}
	wg.Wait()
	close(wins)

	// Exactly one caller owns the triple
	assert.Len(t, wins, 1)
}

func TestStore_CompleteLease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLease(ctx, testLease("chan-1", "agent-a", 7)))
	require.NoError(t, store.CompleteLease(ctx, "chan-1", "agent-a", 7))

	got, err := store.GetLease(ctx, "chan-1", "agent-a", 7)
	require.NoError(t, err)
	assert.Equal(t, LeaseStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestStore_CompleteLease_MissingIsNoop(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.CompleteLease(ctx, "chan-1", "agent-a", 99))
	assert.NoError(t, store.FailLease(ctx, "chan-1", "agent-a", 99, "whatever"))
}

func TestStore_FailLease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLease(ctx, testLease("chan-1", "agent-a", 7)))
	require.NoError(t, store.FailLease(ctx, "chan-1", "agent-a", 7, "delivery timed out"))

	got, err := store.GetLease(ctx, "chan-1", "agent-a", 7)
	require.NoError(t, err)
	assert.Equal(t, LeaseStatusFailed, got.Status)
	require.NotNil(t, got.FailedAt)
	assert.Equal(t, "delivery timed out", got.ErrorDetail)
}

func TestStore_FailLease_DoesNotClobberCompleted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLease(ctx, testLease("chan-1", "agent-a", 7)))
	require.NoError(t, store.CompleteLease(ctx, "chan-1", "agent-a", 7))
	require.NoError(t, store.FailLease(ctx, "chan-1", "agent-a", 7, "late failure"))

	got, err := store.GetLease(ctx, "chan-1", "agent-a", 7)
	require.NoError(t, err)
	assert.Equal(t, LeaseStatusCompleted, got.Status)
}

func TestStore_GetLease_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetLease(context.Background(), "chan-1", "agent-a", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EnsurePresence_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-a"))
	require.NoError(t, store.AddPriorityTurns(ctx, "chan-1", "agent-a", 2))

	// Second ensure must not duplicate or reset the row
	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-a"))

	rec, err := store.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PriorityPins)

	records, err := store.ListPresent(ctx, "chan-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_ListPresent_FiltersState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-a"))
	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-b"))
	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-c"))
	require.NoError(t, store.SetPresenceState(ctx, "chan-1", "agent-b", PresenceStateAbsent))

	records, err := store.ListPresent(ctx, "chan-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "agent-a", records[0].AgentID)
	assert.Equal(t, "agent-c", records[1].AgentID)
}

func TestStore_MarkTurnTaken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-a"))
	require.NoError(t, store.AddPriorityTurns(ctx, "chan-1", "agent-a", 1))

	at := time.Now()
	require.NoError(t, store.MarkTurnTaken(ctx, "chan-1", "agent-a", at))

	rec, err := store.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, rec.LastTurnAt)
	assert.WithinDuration(t, at, *rec.LastTurnAt, time.Second)
	assert.Equal(t, 0, rec.PriorityPins)

	// Pins never go negative
	require.NoError(t, store.MarkTurnTaken(ctx, "chan-1", "agent-a", time.Now()))
	rec, err = store.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.PriorityPins)
}

func TestStore_MarkMentioned(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsurePresence(ctx, "chan-1", "agent-a"))

	at := time.Now()
	require.NoError(t, store.MarkMentioned(ctx, "chan-1", "agent-a", at))

	rec, err := store.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, rec.LastMentionedAt)
	assert.WithinDuration(t, at, *rec.LastMentionedAt, time.Second)
}

func TestStore_ChannelActivity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.TouchChannelActivity(ctx, "chan-old", "human-1", true, now.Add(-time.Hour)))
	require.NoError(t, store.TouchChannelActivity(ctx, "chan-new", "human-1", true, now))
	require.NoError(t, store.TouchChannelActivity(ctx, "chan-mid", "agent-a", false, now.Add(-time.Minute)))

	activities, err := store.ListActiveChannels(ctx, 10)
	require.NoError(t, err)
	require.Len(t, activities, 3)
	assert.Equal(t, "chan-new", activities[0].ChannelID)
	assert.Equal(t, "chan-mid", activities[1].ChannelID)
	assert.Equal(t, "chan-old", activities[2].ChannelID)

	// Limit applies after ordering
	activities, err = store.ListActiveChannels(ctx, 1)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "chan-new", activities[0].ChannelID)
}

func TestStore_CountRecentHumans(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		sender := fmt.Sprintf("human-%d", i)
		require.NoError(t, store.TouchChannelActivity(ctx, "chan-1", sender, true, now))
	}
	// Agents and stale humans don't count
	require.NoError(t, store.TouchChannelActivity(ctx, "chan-1", "agent-a", false, now))
	require.NoError(t, store.TouchChannelActivity(ctx, "chan-1", "human-stale", true, now.Add(-time.Hour)))

	count, err := store.CountRecentHumans(ctx, "chan-1", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Re-touching a sender doesn't double count
	require.NoError(t, store.TouchChannelActivity(ctx, "chan-1", "human-0", true, now.Add(time.Second)))
	count, err = store.CountRecentHumans(ctx, "chan-1", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIsConstraintViolation(t *testing.T) {
	assert.False(t, isConstraintViolation(nil))
	assert.False(t, isConstraintViolation(errors.New("disk I/O error")))
	assert.True(t, isConstraintViolation(errors.New("constraint failed: UNIQUE constraint failed: turn_leases.channel_id")))
}
