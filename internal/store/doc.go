// Package store provides persistent storage for coven-turns using SQLite.
//
// # Data Models
//
//   - ChannelTick: per-channel monotonic epoch counter
//   - TurnLease: exclusivity record over (channel, agent, tick); the unique
//     index on the triple is the system's only cross-path synchronization point
//   - PresenceRecord: one agent's standing in one channel (state, last turn,
//     last mention, priority pins, new-summon turns)
//   - ChannelActivity: recency of senders per channel, feeding sweep ranking
//     and the active-human estimate
//
// # Concurrency
//
// AdvanceTick is a single-statement upsert, so concurrent callers each
// receive a distinct, gap-free value. CreateLease maps a UNIQUE constraint
// violation to ErrLeaseExists; callers branch with errors.Is rather than
// inspecting message text. Complete/Fail transitions only touch rows still
// in the pending state, which makes them idempotent and safe to replay.
//
// MockStore is an in-memory implementation with the same semantics for
// tests that don't need SQLite.
package store
