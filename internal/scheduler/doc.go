// Package scheduler decides which agents act in which channels, and when.
//
// # Model
//
// Each channel advances through ticks: decision epochs numbered by a
// persistent, monotonic counter. Two paths grant turns:
//
//   - The ambient sweep runs periodically, visits recently-active channels
//     under a global turn budget, ranks each channel's present agents, and
//     lets the top K act.
//   - The human fast lane reacts to an inbound human message, granting an
//     immediate turn to the first mentioned agent and suppressing ambient
//     turns in that channel for a few seconds.
//
// Both paths can run concurrently for the same channel. The only
// synchronization between them is the lease: an atomic insert keyed by
// (channel, agent, tick). Exactly one TryAcquire wins per triple, so an
// agent never gets two overlapping turns in one epoch no matter how the
// paths interleave. Everything else (presence, the suppression window) is
// best-effort state where a lost race degrades timing, not correctness.
//
// # Failure containment
//
// Failures stay at the smallest possible scope: a candidate that fails
// delivery is skipped for the next one, a channel that fails storage is
// skipped for the next channel, and Sweep never propagates an error or
// panic to the task runner. The visible effect of any internal failure is
// an agent silently sitting out a tick.
package scheduler
