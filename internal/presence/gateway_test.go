// ABOUTME: Tests for presence scoring and cooldown policy
// ABOUTME: Scoring must be deterministic; cooldown overridden by pins and summons

package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-turns/internal/store"
)

func newTestGateway() (*Gateway, *store.MockStore) {
	mock := store.NewMockStore()
	return NewGateway(mock, 10*time.Minute, nil), mock
}

func TestGateway_EnsurePresence_Idempotent(t *testing.T) {
	g, mock := newTestGateway()
	ctx := context.Background()

	require.NoError(t, g.EnsurePresence(ctx, "chan-1", "agent-a"))
	require.NoError(t, mock.AddPriorityTurns(ctx, "chan-1", "agent-a", 2))
	require.NoError(t, g.EnsurePresence(ctx, "chan-1", "agent-a"))

	rec, err := g.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PriorityPins)

	records, err := g.ListPresent(ctx, "chan-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGateway_ScoreInitiative_MentionDominates(t *testing.T) {
	g, _ := newTestGateway()
	now := time.Now()
	justMentioned := now.Add(-10 * time.Second)

	mentioned := &store.PresenceRecord{AgentID: "a", LastMentionedAt: &justMentioned, LastTurnAt: &now}
	quiet := &store.PresenceRecord{AgentID: "b", LastTurnAt: &now}

	assert.Greater(t, g.ScoreInitiative(mentioned, now, 1), g.ScoreInitiative(quiet, now, 1))
}

func TestGateway_ScoreInitiative_MentionDecays(t *testing.T) {
	g, _ := newTestGateway()
	now := time.Now()
	fresh := now.Add(-10 * time.Second)
	stale := now.Add(-4 * time.Minute)
	ancient := now.Add(-time.Hour)

	recFresh := &store.PresenceRecord{LastMentionedAt: &fresh, LastTurnAt: &now}
	recStale := &store.PresenceRecord{LastMentionedAt: &stale, LastTurnAt: &now}
	recAncient := &store.PresenceRecord{LastMentionedAt: &ancient, LastTurnAt: &now}

	assert.Greater(t, g.ScoreInitiative(recFresh, now, 1), g.ScoreInitiative(recStale, now, 1))
	// Outside the window, the mention contributes nothing
	assert.Equal(t, g.ScoreInitiative(recAncient, now, 1), g.ScoreInitiative(&store.PresenceRecord{LastTurnAt: &now}, now, 1))
}

func TestGateway_ScoreInitiative_PinsAndSummons(t *testing.T) {
	g, _ := newTestGateway()
	now := time.Now()

	pinned := &store.PresenceRecord{PriorityPins: 2, LastTurnAt: &now}
	summoned := &store.PresenceRecord{NewSummonTurnsRemaining: 1, LastTurnAt: &now}
	plain := &store.PresenceRecord{LastTurnAt: &now}

	assert.Greater(t, g.ScoreInitiative(pinned, now, 0), g.ScoreInitiative(summoned, now, 0))
	assert.Greater(t, g.ScoreInitiative(summoned, now, 0), g.ScoreInitiative(plain, now, 0))

	// Pin contribution is capped
	heavilyPinned := &store.PresenceRecord{PriorityPins: 50, LastTurnAt: &now}
	capped := &store.PresenceRecord{PriorityPins: pinCap, LastTurnAt: &now}
	assert.Equal(t, g.ScoreInitiative(capped, now, 0), g.ScoreInitiative(heavilyPinned, now, 0))
}

func TestGateway_ScoreInitiative_IdleBoost(t *testing.T) {
	g, _ := newTestGateway()
	now := time.Now()
	recent := now.Add(-time.Minute)
	longAgo := now.Add(-2 * time.Hour)

	never := &store.PresenceRecord{}
	idle := &store.PresenceRecord{LastTurnAt: &longAgo}
	fresh := &store.PresenceRecord{LastTurnAt: &recent}

	assert.Greater(t, g.ScoreInitiative(idle, now, 0), g.ScoreInitiative(fresh, now, 0))
	// Never spoken gets the full boost, same as very long idle
	assert.Equal(t, g.ScoreInitiative(never, now, 0), g.ScoreInitiative(idle, now, 0))
}

func TestGateway_ScoreInitiative_Deterministic(t *testing.T) {
	g, _ := newTestGateway()
	now := time.Now()
	mentioned := now.Add(-time.Minute)
	spoke := now.Add(-30 * time.Minute)

	rec := &store.PresenceRecord{
		LastMentionedAt: &mentioned,
		LastTurnAt:      &spoke,
		PriorityPins:    1,
	}

	first := g.ScoreInitiative(rec, now, 4)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.ScoreInitiative(rec, now, 4))
	}
}

func TestGateway_CooldownActive(t *testing.T) {
	g, _ := newTestGateway()
	now := time.Now()
	justSpoke := now.Add(-time.Minute)
	longAgo := now.Add(-time.Hour)

	tests := []struct {
		name string
		rec  *store.PresenceRecord
		want bool
	}{
		{"never spoke", &store.PresenceRecord{}, false},
		{"spoke recently", &store.PresenceRecord{LastTurnAt: &justSpoke}, true},
		{"spoke long ago", &store.PresenceRecord{LastTurnAt: &longAgo}, false},
		{"cooldown state", &store.PresenceRecord{State: store.PresenceStateCooldown}, true},
		{"pins override", &store.PresenceRecord{LastTurnAt: &justSpoke, PriorityPins: 1}, false},
		{"summons override", &store.PresenceRecord{State: store.PresenceStateCooldown, NewSummonTurnsRemaining: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.CooldownActive(tt.rec, now))
		})
	}
}

func TestGateway_RecordTurn(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	require.NoError(t, g.EnsurePresence(ctx, "chan-1", "agent-a"))
	require.NoError(t, g.GrantPriorityTurns(ctx, "chan-1", "agent-a", 1))
	require.NoError(t, g.RecordTurn(ctx, "chan-1", "agent-a"))

	rec, err := g.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, rec.LastTurnAt)
	assert.Equal(t, 0, rec.PriorityPins)
}

func TestGateway_RecordMention(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	require.NoError(t, g.EnsurePresence(ctx, "chan-1", "agent-a"))
	require.NoError(t, g.RecordMention(ctx, "chan-1", "agent-a"))

	rec, err := g.GetPresence(ctx, "chan-1", "agent-a")
	require.NoError(t, err)
	assert.NotNil(t, rec.LastMentionedAt)
}
