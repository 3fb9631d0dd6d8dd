// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides tick/lease/presence persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Serialize writers at the driver level; SQLite allows a single writer
	// and concurrent advance/acquire calls otherwise surface SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS channel_ticks (
			channel_id   TEXT PRIMARY KEY,
			tick_id      INTEGER NOT NULL DEFAULT 0,
			last_tick_at TEXT NOT NULL,

			CHECK (tick_id >= 0)
		);

		CREATE TABLE IF NOT EXISTS turn_leases (
			lease_id         TEXT PRIMARY KEY,
			channel_id       TEXT NOT NULL,
			agent_id         TEXT NOT NULL,
			tick_id          INTEGER NOT NULL,
			mode             TEXT NOT NULL,
			status           TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			lease_expires_at TEXT NOT NULL,
			completed_at     TEXT,
			failed_at        TEXT,
			error_detail     TEXT,

			CHECK (status IN ('pending', 'completed', 'failed')),
			CHECK (mode IN ('ambient', 'fast_lane'))
		);

		-- The exclusivity guarantee: at most one lease per (channel, agent, tick)
		CREATE UNIQUE INDEX IF NOT EXISTS idx_leases_triple
			ON turn_leases(channel_id, agent_id, tick_id);

		CREATE INDEX IF NOT EXISTS idx_leases_channel_tick
			ON turn_leases(channel_id, tick_id);

		CREATE TABLE IF NOT EXISTS presence (
			channel_id                 TEXT NOT NULL,
			agent_id                   TEXT NOT NULL,
			state                      TEXT NOT NULL DEFAULT 'present',
			last_turn_at               TEXT,
			last_mentioned_at          TEXT,
			priority_pins              INTEGER NOT NULL DEFAULT 0,
			new_summon_turns_remaining INTEGER NOT NULL DEFAULT 0,
			joined_at                  TEXT NOT NULL,

			PRIMARY KEY (channel_id, agent_id),
			CHECK (state IN ('present', 'absent', 'cooldown'))
		);

		CREATE INDEX IF NOT EXISTS idx_presence_channel_state
			ON presence(channel_id, state);

		CREATE TABLE IF NOT EXISTS channel_activity (
			channel_id      TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			is_human        INTEGER NOT NULL DEFAULT 0,
			last_message_at TEXT NOT NULL,

			PRIMARY KEY (channel_id, sender_id)
		);

		CREATE INDEX IF NOT EXISTS idx_activity_recency
			ON channel_activity(last_message_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tick counters ---

// CurrentTick returns the channel's tick counter, materializing it at 0
// if the channel has never been seen.
func (s *SQLiteStore) CurrentTick(ctx context.Context, channelID string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_ticks (channel_id, tick_id, last_tick_at) VALUES (?, 0, ?)`,
		channelID, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("materializing tick row: %w", err)
	}

	var tickID int64
	err = s.db.QueryRowContext(ctx,
		`SELECT tick_id FROM channel_ticks WHERE channel_id = ?`, channelID).Scan(&tickID)
	if err != nil {
		return 0, fmt.Errorf("reading tick: %w", err)
	}
	return tickID, nil
}

// AdvanceTick atomically increments the channel's tick counter and returns
// the new value. The upsert executes as a single statement, so N concurrent
// callers each observe a distinct value with no gaps.
func (s *SQLiteStore) AdvanceTick(ctx context.Context, channelID string) (int64, error) {
	var tickID int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO channel_ticks (channel_id, tick_id, last_tick_at) VALUES (?, 1, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			tick_id = tick_id + 1,
			last_tick_at = excluded.last_tick_at
		RETURNING tick_id`,
		channelID, formatTime(time.Now())).Scan(&tickID)
	if err != nil {
		return 0, fmt.Errorf("advancing tick: %w", err)
	}
	return tickID, nil
}

// --- Turn leases ---

// CreateLease inserts a new lease row. If a lease already exists for the
// (channel, agent, tick) triple, it returns ErrLeaseExists.
func (s *SQLiteStore) CreateLease(ctx context.Context, lease *TurnLease) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_leases
			(lease_id, channel_id, agent_id, tick_id, mode, status, created_at, lease_expires_at, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lease.ID, lease.ChannelID, lease.AgentID, lease.TickID,
		lease.Mode, lease.Status,
		formatTime(lease.CreatedAt), formatTime(lease.LeaseExpiresAt),
		lease.ErrorDetail)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrLeaseExists
		}
		return fmt.Errorf("creating lease: %w", err)
	}
	return nil
}

// GetLease returns the lease for a (channel, agent, tick) triple, or ErrNotFound.
func (s *SQLiteStore) GetLease(ctx context.Context, channelID, agentID string, tickID int64) (*TurnLease, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lease_id, channel_id, agent_id, tick_id, mode, status,
		       created_at, lease_expires_at, completed_at, failed_at, error_detail
		FROM turn_leases
		WHERE channel_id = ? AND agent_id = ? AND tick_id = ?`,
		channelID, agentID, tickID)

	var lease TurnLease
	var createdAt, expiresAt string
	var completedAt, failedAt, errorDetail sql.NullString
	err := row.Scan(&lease.ID, &lease.ChannelID, &lease.AgentID, &lease.TickID,
		&lease.Mode, &lease.Status, &createdAt, &expiresAt,
		&completedAt, &failedAt, &errorDetail)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading lease: %w", err)
	}

	if lease.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lease.LeaseExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing lease_expires_at: %w", err)
	}
	if lease.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	if lease.FailedAt, err = parseNullTime(failedAt); err != nil {
		return nil, fmt.Errorf("parsing failed_at: %w", err)
	}
	lease.ErrorDetail = errorDetail.String

	return &lease, nil
}

// CompleteLease transitions a pending lease to completed. A missing or
// already-settled lease is a harmless no-op.
func (s *SQLiteStore) CompleteLease(ctx context.Context, channelID, agentID string, tickID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE turn_leases
		SET status = 'completed', completed_at = ?
		WHERE channel_id = ? AND agent_id = ? AND tick_id = ? AND status = 'pending'`,
		formatTime(time.Now()), channelID, agentID, tickID)
	if err != nil {
		return fmt.Errorf("completing lease: %w", err)
	}
	return nil
}

// FailLease transitions a pending lease to failed, recording the error detail.
// A missing or already-settled lease is a harmless no-op.
func (s *SQLiteStore) FailLease(ctx context.Context, channelID, agentID string, tickID int64, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE turn_leases
		SET status = 'failed', failed_at = ?, error_detail = ?
		WHERE channel_id = ? AND agent_id = ? AND tick_id = ? AND status = 'pending'`,
		formatTime(time.Now()), detail, channelID, agentID, tickID)
	if err != nil {
		return fmt.Errorf("failing lease: %w", err)
	}
	return nil
}

// --- Presence ---

// EnsurePresence creates a presence row for (channel, agent) if one does not
// exist. Calling it repeatedly never duplicates or resets a row.
func (s *SQLiteStore) EnsurePresence(ctx context.Context, channelID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO presence (channel_id, agent_id, state, joined_at)
		VALUES (?, ?, 'present', ?)`,
		channelID, agentID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("ensuring presence: %w", err)
	}
	return nil
}

// GetPresence returns the presence record for (channel, agent), or ErrNotFound.
func (s *SQLiteStore) GetPresence(ctx context.Context, channelID, agentID string) (*PresenceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT channel_id, agent_id, state, last_turn_at, last_mentioned_at,
		       priority_pins, new_summon_turns_remaining, joined_at
		FROM presence
		WHERE channel_id = ? AND agent_id = ?`,
		channelID, agentID)

	rec, err := scanPresence(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading presence: %w", err)
	}
	return rec, nil
}

// ListPresent returns all presence records for a channel whose state is
// "present", ordered by agent id for stable iteration.
func (s *SQLiteStore) ListPresent(ctx context.Context, channelID string) ([]*PresenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, agent_id, state, last_turn_at, last_mentioned_at,
		       priority_pins, new_summon_turns_remaining, joined_at
		FROM presence
		WHERE channel_id = ? AND state = 'present'
		ORDER BY agent_id`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("listing presence: %w", err)
	}
	defer rows.Close()

	var records []*PresenceRecord
	for rows.Next() {
		rec, err := scanPresence(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning presence: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetPresenceState updates the state of a presence row
func (s *SQLiteStore) SetPresenceState(ctx context.Context, channelID, agentID, state string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE presence SET state = ? WHERE channel_id = ? AND agent_id = ?`,
		state, channelID, agentID)
	if err != nil {
		return fmt.Errorf("setting presence state: %w", err)
	}
	return nil
}

// MarkTurnTaken records that the agent acted: stamps last_turn_at and burns
// one priority pin and one new-summon turn if any remain.
func (s *SQLiteStore) MarkTurnTaken(ctx context.Context, channelID, agentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE presence
		SET last_turn_at = ?,
		    priority_pins = MAX(priority_pins - 1, 0),
		    new_summon_turns_remaining = MAX(new_summon_turns_remaining - 1, 0)
		WHERE channel_id = ? AND agent_id = ?`,
		formatTime(at), channelID, agentID)
	if err != nil {
		return fmt.Errorf("marking turn taken: %w", err)
	}
	return nil
}

// MarkMentioned stamps last_mentioned_at for the agent
func (s *SQLiteStore) MarkMentioned(ctx context.Context, channelID, agentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE presence SET last_mentioned_at = ? WHERE channel_id = ? AND agent_id = ?`,
		formatTime(at), channelID, agentID)
	if err != nil {
		return fmt.Errorf("marking mentioned: %w", err)
	}
	return nil
}

// AddPriorityTurns adds count priority pins to the agent's presence row
func (s *SQLiteStore) AddPriorityTurns(ctx context.Context, channelID, agentID string, count int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE presence SET priority_pins = priority_pins + ? WHERE channel_id = ? AND agent_id = ?`,
		count, channelID, agentID)
	if err != nil {
		return fmt.Errorf("adding priority turns: %w", err)
	}
	return nil
}

// --- Channel activity ---

// TouchChannelActivity records that a sender spoke in a channel
func (s *SQLiteStore) TouchChannelActivity(ctx context.Context, channelID, senderID string, human bool, at time.Time) error {
	isHuman := 0
	if human {
		isHuman = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_activity (channel_id, sender_id, is_human, last_message_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id, sender_id) DO UPDATE SET
			is_human = excluded.is_human,
			last_message_at = excluded.last_message_at`,
		channelID, senderID, isHuman, formatTime(at))
	if err != nil {
		return fmt.Errorf("touching channel activity: %w", err)
	}
	return nil
}

// ListActiveChannels returns up to limit channels ordered by most recent
// activity, newest first.
func (s *SQLiteStore) ListActiveChannels(ctx context.Context, limit int) ([]*ChannelActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, MAX(last_message_at) AS newest
		FROM channel_activity
		GROUP BY channel_id
		ORDER BY newest DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active channels: %w", err)
	}
	defer rows.Close()

	var activities []*ChannelActivity
	for rows.Next() {
		var act ChannelActivity
		var newest string
		if err := rows.Scan(&act.ChannelID, &newest); err != nil {
			return nil, fmt.Errorf("scanning channel activity: %w", err)
		}
		if act.LastMessageAt, err = parseTime(newest); err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		activities = append(activities, &act)
	}
	return activities, rows.Err()
}

// CountRecentHumans counts distinct human senders active in the channel
// since the given time.
func (s *SQLiteStore) CountRecentHumans(ctx context.Context, channelID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT sender_id)
		FROM channel_activity
		WHERE channel_id = ? AND is_human = 1 AND last_message_at >= ?`,
		channelID, formatTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recent humans: %w", err)
	}
	return count, nil
}

// --- helpers ---

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPresence(row scanner) (*PresenceRecord, error) {
	var rec PresenceRecord
	var lastTurn, lastMention sql.NullString
	var joinedAt string
	err := row.Scan(&rec.ChannelID, &rec.AgentID, &rec.State,
		&lastTurn, &lastMention,
		&rec.PriorityPins, &rec.NewSummonTurnsRemaining, &joinedAt)
	if err != nil {
		return nil, err
	}
	if rec.LastTurnAt, err = parseNullTime(lastTurn); err != nil {
		return nil, err
	}
	if rec.LastMentionedAt, err = parseNullTime(lastMention); err != nil {
		return nil, err
	}
	if rec.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// timeLayout keeps a fixed-width fractional part so lexical ordering in SQL
// matches chronological ordering. RFC3339Nano trims trailing zeros and would
// break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
