// ABOUTME: Presence gateway: per-(channel, agent) standing, scoring, and cooldown policy
// ABOUTME: Persists through the store; initiative scoring is pure and deterministic

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-turns/internal/store"
)

// Scoring weights. Mentions dominate, pins and fresh summons follow, and a
// slow idle boost keeps quiet agents from starving.
const (
	mentionWindow   = 5 * time.Minute
	mentionBase     = 3.0
	mentionPerHuman = 0.2 // busier channels weight mentions higher
	pinWeight       = 1.5
	pinCap          = 3
	summonWeight    = 1.0
	idleBoostMax    = 2.0
)

// PresenceStore defines what the gateway needs from storage
type PresenceStore interface {
	EnsurePresence(ctx context.Context, channelID, agentID string) error
	GetPresence(ctx context.Context, channelID, agentID string) (*store.PresenceRecord, error)
	ListPresent(ctx context.Context, channelID string) ([]*store.PresenceRecord, error)
	MarkTurnTaken(ctx context.Context, channelID, agentID string, at time.Time) error
	MarkMentioned(ctx context.Context, channelID, agentID string, at time.Time) error
	AddPriorityTurns(ctx context.Context, channelID, agentID string, count int) error
}

// Gateway implements presence bookkeeping and the initiative/cooldown
// policy the scheduler consults when ranking candidates.
type Gateway struct {
	store    PresenceStore
	cooldown time.Duration
	logger   *slog.Logger
}

// NewGateway creates a presence gateway. cooldown is the minimum gap between
// one agent's ambient turns in a channel.
func NewGateway(store PresenceStore, cooldown time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:    store,
		cooldown: cooldown,
		logger:   logger.With("component", "presence"),
	}
}

// EnsurePresence materializes a presence row for (channel, agent). Calling
// it repeatedly never duplicates or resets the row.
func (g *Gateway) EnsurePresence(ctx context.Context, channelID, agentID string) error {
	if err := g.store.EnsurePresence(ctx, channelID, agentID); err != nil {
		return fmt.Errorf("ensuring presence for %s in %s: %w", agentID, channelID, err)
	}
	return nil
}

// GetPresence returns the record for (channel, agent)
func (g *Gateway) GetPresence(ctx context.Context, channelID, agentID string) (*store.PresenceRecord, error) {
	return g.store.GetPresence(ctx, channelID, agentID)
}

// ListPresent returns the channel's present agents
func (g *Gateway) ListPresent(ctx context.Context, channelID string) ([]*store.PresenceRecord, error) {
	return g.store.ListPresent(ctx, channelID)
}

// ScoreInitiative computes the agent's eagerness to speak now. The result
// depends only on the record, now, and activeHumans, so identical inputs
// always score identically.
func (g *Gateway) ScoreInitiative(rec *store.PresenceRecord, now time.Time, activeHumans int) float64 {
	score := 0.0

	// Recent mentions dominate, decaying linearly over the mention window
	if rec.LastMentionedAt != nil {
		age := now.Sub(*rec.LastMentionedAt)
		if age >= 0 && age < mentionWindow {
			humans := min(activeHumans, 10)
			weight := mentionBase + mentionPerHuman*float64(humans)
			score += weight * (1 - age.Seconds()/mentionWindow.Seconds())
		}
	}

	score += pinWeight * float64(min(rec.PriorityPins, pinCap))

	if rec.NewSummonTurnsRemaining > 0 {
		score += summonWeight
	}

	// Idle boost: grows from 0 to idleBoostMax over three cooldown periods.
	// An agent that never spoke gets the full boost.
	if rec.LastTurnAt == nil {
		score += idleBoostMax
	} else if g.cooldown > 0 {
		idle := now.Sub(*rec.LastTurnAt)
		full := 3 * g.cooldown
		if idle >= full {
			score += idleBoostMax
		} else if idle > 0 {
			score += idleBoostMax * idle.Seconds() / full.Seconds()
		}
	}

	return score
}

// CooldownActive reports whether the agent should sit this tick out.
// Pending priority turns and fresh-summon turns override the cooldown.
func (g *Gateway) CooldownActive(rec *store.PresenceRecord, now time.Time) bool {
	if rec.PriorityPins > 0 || rec.NewSummonTurnsRemaining > 0 {
		return false
	}
	if rec.State == store.PresenceStateCooldown {
		return true
	}
	if rec.LastTurnAt == nil {
		return false
	}
	return now.Sub(*rec.LastTurnAt) < g.cooldown
}

// RecordTurn notes that the agent acted, restarting its cooldown and
// consuming one pending priority pin and new-summon turn if present.
func (g *Gateway) RecordTurn(ctx context.Context, channelID, agentID string) error {
	if err := g.store.MarkTurnTaken(ctx, channelID, agentID, time.Now()); err != nil {
		return fmt.Errorf("recording turn for %s in %s: %w", agentID, channelID, err)
	}
	g.logger.Debug("turn recorded", "channel_id", channelID, "agent_id", agentID)
	return nil
}

// RecordMention notes that a human addressed the agent
func (g *Gateway) RecordMention(ctx context.Context, channelID, agentID string) error {
	if err := g.store.MarkMentioned(ctx, channelID, agentID, time.Now()); err != nil {
		return fmt.Errorf("recording mention for %s in %s: %w", agentID, channelID, err)
	}
	return nil
}

// GrantPriorityTurns gives the agent count turns that bypass cooldown
func (g *Gateway) GrantPriorityTurns(ctx context.Context, channelID, agentID string, count int) error {
	if err := g.store.AddPriorityTurns(ctx, channelID, agentID, count); err != nil {
		return fmt.Errorf("granting priority turns for %s in %s: %w", agentID, channelID, err)
	}
	g.logger.Debug("priority turns granted",
		"channel_id", channelID, "agent_id", agentID, "count", count)
	return nil
}
