// ABOUTME: Store interface and data types for coven-turns persistence
// ABOUTME: Defines tick counters, turn leases, presence rows and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrLeaseExists is returned when a lease row already exists for a
// (channel, agent, tick) triple. Callers treat this as losing the
// acquisition race, not as a failure.
var ErrLeaseExists = errors.New("lease already exists")

// Lease status constants
const (
	LeaseStatusPending   = "pending"
	LeaseStatusCompleted = "completed"
	LeaseStatusFailed    = "failed"
)

// Lease mode constants
const (
	LeaseModeAmbient  = "ambient"   // granted by the periodic sweep
	LeaseModeFastLane = "fast_lane" // granted in response to a human mention
)

// Presence state constants
const (
	PresenceStatePresent  = "present"
	PresenceStateAbsent   = "absent"
	PresenceStateCooldown = "cooldown"
)

// ChannelTick is the per-channel monotonic epoch counter
type ChannelTick struct {
	ChannelID  string
	TickID     int64
	LastTickAt time.Time
}

// TurnLease is an exclusivity record over (channel, agent, tick).
// At most one row may ever exist per triple; the unique index on
// (channel_id, agent_id, tick_id) is the mutual-exclusion mechanism.
type TurnLease struct {
	ID             string
	ChannelID      string
	AgentID        string
	TickID         int64
	Mode           string // "ambient" or "fast_lane"
	Status         string // "pending", "completed", "failed"
	CreatedAt      time.Time
	LeaseExpiresAt time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
	ErrorDetail    string
}

// PresenceRecord tracks one agent's standing in one channel
type PresenceRecord struct {
	ChannelID               string
	AgentID                 string
	State                   string // "present", "absent", "cooldown"
	LastTurnAt              *time.Time
	LastMentionedAt         *time.Time
	PriorityPins            int
	NewSummonTurnsRemaining int
	JoinedAt                time.Time
}

// ChannelActivity summarizes recent traffic in a channel, used to rank
// channels for the ambient sweep.
type ChannelActivity struct {
	ChannelID     string
	LastMessageAt time.Time
}

// Store defines the interface for turn-coordination persistence
type Store interface {
	// Tick counters
	CurrentTick(ctx context.Context, channelID string) (int64, error)
	AdvanceTick(ctx context.Context, channelID string) (int64, error)

	// Turn leases
	CreateLease(ctx context.Context, lease *TurnLease) error
	GetLease(ctx context.Context, channelID, agentID string, tickID int64) (*TurnLease, error)
	CompleteLease(ctx context.Context, channelID, agentID string, tickID int64) error
	FailLease(ctx context.Context, channelID, agentID string, tickID int64, detail string) error

	// Presence
	EnsurePresence(ctx context.Context, channelID, agentID string) error
	GetPresence(ctx context.Context, channelID, agentID string) (*PresenceRecord, error)
	ListPresent(ctx context.Context, channelID string) ([]*PresenceRecord, error)
	SetPresenceState(ctx context.Context, channelID, agentID, state string) error
	MarkTurnTaken(ctx context.Context, channelID, agentID string, at time.Time) error
	MarkMentioned(ctx context.Context, channelID, agentID string, at time.Time) error
	AddPriorityTurns(ctx context.Context, channelID, agentID string, count int) error

	// Channel activity
	TouchChannelActivity(ctx context.Context, channelID, senderID string, human bool, at time.Time) error
	ListActiveChannels(ctx context.Context, limit int) ([]*ChannelActivity, error)
	CountRecentHumans(ctx context.Context, channelID string, since time.Time) (int, error)

	// Close releases any resources held by the store
	Close() error
}
