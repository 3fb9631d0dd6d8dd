// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.Mutex
	ticks    map[string]*ChannelTick    // keyed by channel ID
	leases   map[string]*TurnLease      // keyed by "channel:agent:tick"
	presence map[string]*PresenceRecord // keyed by "channel:agent"
	activity map[string]*activityEntry  // keyed by "channel:sender"

	// FailCreateLease, when set, makes CreateLease return this error for
	// every call. Used to simulate storage outages.
	FailCreateLease error
}

type activityEntry struct {
	channelID string
	senderID  string
	human     bool
	lastAt    time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		ticks:    make(map[string]*ChannelTick),
		leases:   make(map[string]*TurnLease),
		presence: make(map[string]*PresenceRecord),
		activity: make(map[string]*activityEntry),
	}
}

func leaseKey(channelID, agentID string, tickID int64) string {
	return fmt.Sprintf("%s:%s:%d", channelID, agentID, tickID)
}

func presenceKey(channelID, agentID string) string {
	return channelID + ":" + agentID
}

// CurrentTick returns the channel's counter, materializing 0 if absent.
func (m *MockStore) CurrentTick(ctx context.Context, channelID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tick, ok := m.ticks[channelID]
	if !ok {
		tick = &ChannelTick{ChannelID: channelID, TickID: 0, LastTickAt: time.Now()}
		m.ticks[channelID] = tick
	}
	return tick.TickID, nil
}

// AdvanceTick increments the channel's counter and returns the new value.
func (m *MockStore) AdvanceTick(ctx context.Context, channelID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tick, ok := m.ticks[channelID]
	if !ok {
		tick = &ChannelTick{ChannelID: channelID}
		m.ticks[channelID] = tick
	}
	tick.TickID++
	tick.LastTickAt = time.Now()
	return tick.TickID, nil
}

// CreateLease inserts a lease, enforcing triple uniqueness.
func (m *MockStore) CreateLease(ctx context.Context, lease *TurnLease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateLease != nil {
		return m.FailCreateLease
	}

	key := leaseKey(lease.ChannelID, lease.AgentID, lease.TickID)
	if _, exists := m.leases[key]; exists {
		return ErrLeaseExists
	}

	l := *lease
	m.leases[key] = &l
	return nil
}

// GetLease returns the lease for a triple, or ErrNotFound.
func (m *MockStore) GetLease(ctx context.Context, channelID, agentID string, tickID int64) (*TurnLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[leaseKey(channelID, agentID, tickID)]
	if !ok {
		return nil, ErrNotFound
	}
	l := *lease
	return &l, nil
}

// CompleteLease marks a pending lease completed; no-op if missing or settled.
func (m *MockStore) CompleteLease(ctx context.Context, channelID, agentID string, tickID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[leaseKey(channelID, agentID, tickID)]
	if !ok || lease.Status != LeaseStatusPending {
		return nil
	}
	now := time.Now()
	lease.Status = LeaseStatusCompleted
	lease.CompletedAt = &now
	return nil
}

// FailLease marks a pending lease failed; no-op if missing or settled.
func (m *MockStore) FailLease(ctx context.Context, channelID, agentID string, tickID int64, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[leaseKey(channelID, agentID, tickID)]
	if !ok || lease.Status != LeaseStatusPending {
		return nil
	}
	now := time.Now()
	lease.Status = LeaseStatusFailed
	lease.FailedAt = &now
	lease.ErrorDetail = detail
	return nil
}

// EnsurePresence creates a presence row if absent.
func (m *MockStore) EnsurePresence(ctx context.Context, channelID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := presenceKey(channelID, agentID)
	if _, ok := m.presence[key]; ok {
		return nil
	}
	m.presence[key] = &PresenceRecord{
		ChannelID: channelID,
		AgentID:   agentID,
		State:     PresenceStatePresent,
		JoinedAt:  time.Now(),
	}
	return nil
}

// GetPresence returns a copy of the presence record, or ErrNotFound.
func (m *MockStore) GetPresence(ctx context.Context, channelID, agentID string) (*PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.presence[presenceKey(channelID, agentID)]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// ListPresent returns copies of all "present" records for a channel, by agent id.
func (m *MockStore) ListPresent(ctx context.Context, channelID string) ([]*PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []*PresenceRecord
	for _, rec := range m.presence {
		if rec.ChannelID == channelID && rec.State == PresenceStatePresent {
			r := *rec
			records = append(records, &r)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AgentID < records[j].AgentID
	})
	return records, nil
}

// SetPresenceState updates the state of an existing record.
func (m *MockStore) SetPresenceState(ctx context.Context, channelID, agentID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.presence[presenceKey(channelID, agentID)]; ok {
		rec.State = state
	}
	return nil
}

// MarkTurnTaken stamps last_turn_at and burns a pin and a summon turn.
func (m *MockStore) MarkTurnTaken(ctx context.Context, channelID, agentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.presence[presenceKey(channelID, agentID)]
	if !ok {
		return nil
	}
	t := at
	rec.LastTurnAt = &t
	if rec.PriorityPins > 0 {
		rec.PriorityPins--
	}
	if rec.NewSummonTurnsRemaining > 0 {
		rec.NewSummonTurnsRemaining--
	}
	return nil
}

// MarkMentioned stamps last_mentioned_at.
func (m *MockStore) MarkMentioned(ctx context.Context, channelID, agentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.presence[presenceKey(channelID, agentID)]; ok {
		t := at
		rec.LastMentionedAt = &t
	}
	return nil
}

// AddPriorityTurns adds pins to an existing record.
func (m *MockStore) AddPriorityTurns(ctx context.Context, channelID, agentID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.presence[presenceKey(channelID, agentID)]; ok {
		rec.PriorityPins += count
	}
	return nil
}

// TouchChannelActivity upserts a (channel, sender) activity entry.
func (m *MockStore) TouchChannelActivity(ctx context.Context, channelID, senderID string, human bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activity[channelID+":"+senderID] = &activityEntry{
		channelID: channelID,
		senderID:  senderID,
		human:     human,
		lastAt:    at,
	}
	return nil
}

// ListActiveChannels returns channels ordered by most recent activity.
func (m *MockStore) ListActiveChannels(ctx context.Context, limit int) ([]*ChannelActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newest := make(map[string]time.Time)
	for _, e := range m.activity {
		if e.lastAt.After(newest[e.channelID]) {
			newest[e.channelID] = e.lastAt
		}
	}

	var activities []*ChannelActivity
	for ch, at := range newest {
		activities = append(activities, &ChannelActivity{ChannelID: ch, LastMessageAt: at})
	}
	sort.Slice(activities, func(i, j int) bool {
		return activities[i].LastMessageAt.After(activities[j].LastMessageAt)
	})
	if len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

// CountRecentHumans counts distinct human senders since the given time.
func (m *MockStore) CountRecentHumans(ctx context.Context, channelID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.activity {
		if e.channelID == channelID && e.human && !e.lastAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// LeaseCount returns how many leases exist, for test assertions.
func (m *MockStore) LeaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
