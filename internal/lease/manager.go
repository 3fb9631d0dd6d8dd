// ABOUTME: Lease manager, the atomic exclusivity primitive over (channel, agent, tick)
// ABOUTME: Exactly one TryAcquire succeeds per triple across all concurrent callers

package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-turns/internal/store"
)

// DefaultTTL bounds how long a lease is considered live. No reaper reclaims
// expired pending leases; the bound exists so an external janitor could.
const DefaultTTL = 2 * time.Minute

// LeaseStore defines what the manager needs from storage
type LeaseStore interface {
	CreateLease(ctx context.Context, lease *store.TurnLease) error
	CompleteLease(ctx context.Context, channelID, agentID string, tickID int64) error
	FailLease(ctx context.Context, channelID, agentID string, tickID int64, detail string) error
}

// Manager arbitrates turn ownership. The ambient sweep and the human
// fast lane both acquire through here, so a race for the same
// (channel, agent, tick) is settled by the store's atomic insert.
type Manager struct {
	store  LeaseStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager creates a lease manager. A non-positive ttl falls back to DefaultTTL.
func NewManager(store LeaseStore, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "lease"),
	}
}

// TryAcquire attempts to claim the (channel, agent, tick) triple. It returns
// true if this caller now owns the triple, false if another path already
// claimed it. Losing the race is the expected outcome under contention and
// is not an error; any other storage failure is returned as one.
func (m *Manager) TryAcquire(ctx context.Context, channelID, agentID string, tickID int64, mode string) (bool, error) {
	now := time.Now()
	lease := &store.TurnLease{
		ID:             uuid.New().String(),
		ChannelID:      channelID,
		AgentID:        agentID,
		TickID:         tickID,
		Mode:           mode,
		Status:         store.LeaseStatusPending,
		CreatedAt:      now,
		LeaseExpiresAt: now.Add(m.ttl),
	}

	err := m.store.CreateLease(ctx, lease)
	if errors.Is(err, store.ErrLeaseExists) {
		m.logger.Debug("lease race lost",
			"channel_id", channelID, "agent_id", agentID, "tick_id", tickID, "mode", mode)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquiring lease: %w", err)
	}

	m.logger.Debug("lease acquired",
		"channel_id", channelID, "agent_id", agentID, "tick_id", tickID, "mode", mode)
	return true, nil
}

// Complete marks the lease completed. A lease that no longer exists or has
// already settled is left alone.
func (m *Manager) Complete(ctx context.Context, channelID, agentID string, tickID int64) error {
	if err := m.store.CompleteLease(ctx, channelID, agentID, tickID); err != nil {
		return fmt.Errorf("completing lease: %w", err)
	}
	return nil
}

// Fail marks the lease failed with the given detail. A lease that no longer
// exists or has already settled is left alone.
func (m *Manager) Fail(ctx context.Context, channelID, agentID string, tickID int64, detail string) error {
	if err := m.store.FailLease(ctx, channelID, agentID, tickID, detail); err != nil {
		return fmt.Errorf("failing lease: %w", err)
	}
	return nil
}
