// ABOUTME: Tick counter manager, the per-channel epoch authority
// ABOUTME: Wraps the store's atomic counter with logging and a narrow interface

package tick

import (
	"context"
	"fmt"
	"log/slog"
)

// CounterStore defines what the manager needs from storage
type CounterStore interface {
	CurrentTick(ctx context.Context, channelID string) (int64, error)
	AdvanceTick(ctx context.Context, channelID string) (int64, error)
}

// Manager issues per-channel tick ids. Ticks are monotonic and gap-free:
// the store increments in a single atomic statement, so N concurrent
// Advance calls for one channel yield N distinct consecutive values.
type Manager struct {
	store  CounterStore
	logger *slog.Logger
}

// NewManager creates a tick manager
func NewManager(store CounterStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "tick"),
	}
}

// Current returns the channel's current tick id without advancing it.
// A channel never seen before is materialized at 0.
func (m *Manager) Current(ctx context.Context, channelID string) (int64, error) {
	tickID, err := m.store.CurrentTick(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("reading current tick for %s: %w", channelID, err)
	}
	return tickID, nil
}

// Advance moves the channel to the next epoch and returns the new tick id.
func (m *Manager) Advance(ctx context.Context, channelID string) (int64, error) {
	tickID, err := m.store.AdvanceTick(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("advancing tick for %s: %w", channelID, err)
	}
	m.logger.Debug("tick advanced", "channel_id", channelID, "tick_id", tickID)
	return tickID, nil
}
