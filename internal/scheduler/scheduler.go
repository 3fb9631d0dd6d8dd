// ABOUTME: Ambient turn scheduler: collaborator interfaces and lifecycle
// ABOUTME: Owns the suppression window; all tunables injected via config at construction

package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-turns/internal/config"
	"github.com/2389/coven-turns/internal/directory"
	"github.com/2389/coven-turns/internal/lease"
	"github.com/2389/coven-turns/internal/store"
	"github.com/2389/coven-turns/internal/suppress"
	"github.com/2389/coven-turns/internal/tick"
)

// PresenceGateway defines what the scheduler needs from presence bookkeeping
type PresenceGateway interface {
	EnsurePresence(ctx context.Context, channelID, agentID string) error
	GetPresence(ctx context.Context, channelID, agentID string) (*store.PresenceRecord, error)
	ListPresent(ctx context.Context, channelID string) ([]*store.PresenceRecord, error)
	ScoreInitiative(rec *store.PresenceRecord, now time.Time, activeHumans int) float64
	CooldownActive(rec *store.PresenceRecord, now time.Time) bool
	RecordTurn(ctx context.Context, channelID, agentID string) error
	RecordMention(ctx context.Context, channelID, agentID string) error
	GrantPriorityTurns(ctx context.Context, channelID, agentID string, count int) error
}

// AgentDirectory defines what the scheduler needs from the agent roster
type AgentDirectory interface {
	ListAgentsInChannel(ctx context.Context, channelID, communityID string) ([]directory.Agent, error)
	GetAgentByID(ctx context.Context, id string) (*directory.Agent, error)
}

// ChannelHandle is a live, send-capable reference to a channel
type ChannelHandle interface {
	ChannelID() string
}

// ChatGateway defines what the scheduler needs from the chat platform.
// ResolveChannelHandle returns (nil, nil) when the channel is unreachable
// (deleted, permission revoked); that is an expected, recoverable condition.
type ChatGateway interface {
	ResolveCommunityForChannel(ctx context.Context, channelID string) (string, error)
	ResolveChannelHandle(ctx context.Context, channelID string) (ChannelHandle, error)
	ListActiveChannels(ctx context.Context, limit int) ([]string, error)
	CountRecentHumans(ctx context.Context, channelID string, window time.Duration) (int, error)
}

// HumanMessage is an inbound message from a human sender
type HumanMessage struct {
	ID         string
	ChannelID  string
	SenderID   string
	SenderName string
	Text       string
	SentAt     time.Time
}

// DeliveryOptions tunes a single response delivery
type DeliveryOptions struct {
	// OverrideCooldown lets a fast-lane turn through even when the agent's
	// ambient cooldown would normally apply.
	OverrideCooldown bool

	// CascadeDepth counts agent-to-agent reply chains, bounded downstream.
	CascadeDepth int
}

// ResponseDelivery generates and sends an agent's reply. humanMessage is nil
// for ambient turns. Bounding delivery latency is the implementation's
// responsibility; the scheduler enforces no timeout of its own.
type ResponseDelivery interface {
	Send(ctx context.Context, handle ChannelHandle, agent *directory.Agent, humanMessage *HumanMessage, opts DeliveryOptions) error
}

// TaskRunner registers periodic work. The ambient sweep is the scheduler's
// only entry point into the host process.
type TaskRunner interface {
	AddTask(name string, task func(ctx context.Context), interval time.Duration)
}

// Deps bundles the scheduler's constructor-injected collaborators
type Deps struct {
	Ticks     *tick.Manager
	Leases    *lease.Manager
	Presence  PresenceGateway
	Directory AgentDirectory
	Chat      ChatGateway
	Delivery  ResponseDelivery
}

// Scheduler decides which agents act each tick. The periodic sweep and the
// human fast lane run concurrently, including for the same channel; the
// lease manager's atomic insert is the only synchronization point between
// them.
type Scheduler struct {
	cfg       config.SchedulerConfig
	ticks     *tick.Manager
	leases    *lease.Manager
	window    *suppress.Window
	presence  PresenceGateway
	directory AgentDirectory
	chat      ChatGateway
	delivery  ResponseDelivery
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a scheduler. The suppression window is created here and
// released by Close.
func New(cfg config.SchedulerConfig, deps Deps, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		ticks:     deps.Ticks,
		leases:    deps.Leases,
		window:    suppress.New(cfg.SuppressionWindow),
		presence:  deps.Presence,
		directory: deps.Directory,
		chat:      deps.Chat,
		delivery:  deps.Delivery,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Start registers the ambient sweep with the task runner. A nil runner is
// logged and ignored: the fast lane still works, ambient sweeps never fire.
func (s *Scheduler) Start(runner TaskRunner) {
	if runner == nil {
		s.logger.Warn("no task runner supplied, ambient sweeps will not run")
		return
	}
	runner.AddTask("ambient-sweep", s.Sweep, s.cfg.TickInterval)
	s.logger.Info("ambient sweep scheduled",
		"interval", s.cfg.TickInterval,
		"budget", s.cfg.SweepBudget)
}

// Close releases the suppression window. Safe to call multiple times.
func (s *Scheduler) Close() {
	s.window.Close()
}

// turnBudget computes K for a channel: ceil(activeHumans/5) clamped to
// [1, maxK], then clamped to the sweep budget when one applies
// (budgetAllowed < 0 means unbounded).
func turnBudget(activeHumans, maxK, budgetAllowed int) int {
	k := (activeHumans + 4) / 5
	if k < 1 {
		k = 1
	}
	if k > maxK {
		k = maxK
	}
	if budgetAllowed >= 0 && k > budgetAllowed {
		k = budgetAllowed
	}
	return k
}
