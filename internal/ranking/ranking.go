// ABOUTME: Pure candidate ranking for per-channel turn selection
// ABOUTME: Five-key comparator producing a deterministic total order

package ranking

import (
	"slices"
	"time"

	"github.com/2389/coven-turns/internal/store"
)

// ShortlistFactor over-provisions the candidate list: some entries will be
// skipped for cooldown, and some will lose the lease race to the fast lane.
const ShortlistFactor = 3

// Candidate pairs a presence record with its initiative score
type Candidate struct {
	Record *store.PresenceRecord
	Score  float64
}

// ScoreFunc computes an initiative score for a presence record
type ScoreFunc func(rec *store.PresenceRecord) float64

// Rank orders the channel's presence snapshot by, in strict precedence:
// initiative score descending, priority pins descending, most recent mention
// descending, least recent turn ascending, agent id ascending. The final key
// makes the ordering a total order, so identical snapshots always rank
// identically. The input slice is not modified.
func Rank(records []*store.PresenceRecord, score ScoreFunc) []Candidate {
	candidates := make([]Candidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, Candidate{Record: rec, Score: score(rec)})
	}

	slices.SortFunc(candidates, compare)
	return candidates
}

// Shortlist returns the first ShortlistFactor*k candidates
func Shortlist(candidates []Candidate, k int) []Candidate {
	limit := ShortlistFactor * k
	if limit >= len(candidates) {
		return candidates
	}
	return candidates[:limit]
}

// compare implements the five-key ordering; negative means a ranks before b.
func compare(a, b Candidate) int {
	// 1. Initiative score, descending
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}

	// 2. Priority pins, descending
	if a.Record.PriorityPins != b.Record.PriorityPins {
		return b.Record.PriorityPins - a.Record.PriorityPins
	}

	// 3. Most recent mention, descending (never mentioned ranks last)
	if c := compareTimeDesc(a.Record.LastMentionedAt, b.Record.LastMentionedAt); c != 0 {
		return c
	}

	// 4. Least recent turn, ascending (never spoken ranks first, anti-starvation)
	if c := compareTimeAsc(a.Record.LastTurnAt, b.Record.LastTurnAt); c != 0 {
		return c
	}

	// 5. Agent id, lexical ascending
	switch {
	case a.Record.AgentID < b.Record.AgentID:
		return -1
	case a.Record.AgentID > b.Record.AgentID:
		return 1
	default:
		return 0
	}
}

// compareTimeDesc orders newer timestamps first; nil counts as oldest.
func compareTimeDesc(a, b *time.Time) int {
	at, bt := timeOrZero(a), timeOrZero(b)
	switch {
	case at.After(bt):
		return -1
	case bt.After(at):
		return 1
	default:
		return 0
	}
}

// compareTimeAsc orders older timestamps first; nil counts as oldest.
func compareTimeAsc(a, b *time.Time) int {
	return -compareTimeDesc(a, b)
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
