// ABOUTME: Per-channel tick processing: advance epoch, rank candidates, lease and act
// ABOUTME: Failures are contained per candidate, then per channel; suppressed channels do nothing

package scheduler

import (
	"context"
	"fmt"

	"github.com/2389/coven-turns/internal/ranking"
	"github.com/2389/coven-turns/internal/store"
)

// ProcessChannelTick runs one decision epoch for a channel and returns how
// many turns were taken. budgetAllowed caps the channel's K; a negative
// value means no sweep budget applies. A suppressed or unreachable channel
// returns 0 with no tick, presence, or lease activity.
func (s *Scheduler) ProcessChannelTick(ctx context.Context, channelID string, budgetAllowed int) (int, error) {
	// A human just spoke here; let the fast lane have the channel.
	if s.window.Active(channelID) {
		s.logger.Debug("channel suppressed, skipping", "channel_id", channelID)
		return 0, nil
	}
	if budgetAllowed == 0 {
		return 0, nil
	}

	communityID, err := s.chat.ResolveCommunityForChannel(ctx, channelID)
	if err != nil {
		s.logger.Debug("channel has no community, skipping",
			"channel_id", channelID, "error", err)
		return 0, nil
	}

	roster, err := s.directory.ListAgentsInChannel(ctx, channelID, communityID)
	if err != nil {
		return 0, fmt.Errorf("listing roster for %s: %w", channelID, err)
	}
	for _, agent := range roster {
		if err := s.presence.EnsurePresence(ctx, channelID, agent.ID); err != nil {
			s.logger.Warn("ensure presence failed",
				"channel_id", channelID, "agent_id", agent.ID, "error", err)
		}
	}

	handle, err := s.chat.ResolveChannelHandle(ctx, channelID)
	if err != nil || handle == nil {
		s.logger.Debug("channel unreachable, skipping",
			"channel_id", channelID, "error", err)
		return 0, nil
	}

	tickID, err := s.ticks.Advance(ctx, channelID)
	if err != nil {
		return 0, err
	}

	present, err := s.presence.ListPresent(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("listing present agents for %s: %w", channelID, err)
	}
	if len(present) == 0 {
		return 0, nil
	}

	// The estimate only influences fairness, never correctness, so a
	// failure just means treating the channel as quiet.
	activeHumans := 0
	if n, err := s.chat.CountRecentHumans(ctx, channelID, s.cfg.HumanActivityWindow); err != nil {
		s.logger.Warn("human activity estimate failed, assuming quiet channel",
			"channel_id", channelID, "error", err)
	} else {
		activeHumans = n
	}

	k := turnBudget(activeHumans, s.cfg.MaxTurnsPerTick, budgetAllowed)

	now := s.now()
	candidates := ranking.Rank(present, func(rec *store.PresenceRecord) float64 {
		return s.presence.ScoreInitiative(rec, now, activeHumans)
	})
	shortlist := ranking.Shortlist(candidates, k)

	taken := 0
	for _, candidate := range shortlist {
		if taken >= k {
			break
		}
		rec := candidate.Record

		if rec.State != store.PresenceStatePresent {
			continue
		}
		if s.presence.CooldownActive(rec, now) {
			continue
		}

		ok, err := s.leases.TryAcquire(ctx, channelID, rec.AgentID, tickID, store.LeaseModeAmbient)
		if err != nil {
			// Storage trouble aborts this channel's tick, not the sweep
			return taken, fmt.Errorf("acquiring lease for %s in %s: %w", rec.AgentID, channelID, err)
		}
		if !ok {
			// Another path claimed this agent this tick
			continue
		}

		profile, err := s.directory.GetAgentByID(ctx, rec.AgentID)
		if err != nil || profile == nil {
			// Nothing to deliver for an unresolvable agent; settle the lease
			if cerr := s.leases.Complete(ctx, channelID, rec.AgentID, tickID); cerr != nil {
				s.logger.Warn("settling empty lease failed",
					"channel_id", channelID, "agent_id", rec.AgentID, "error", cerr)
			}
			continue
		}

		if err := s.delivery.Send(ctx, handle, profile, nil, DeliveryOptions{}); err != nil {
			s.logger.Warn("ambient delivery failed",
				"channel_id", channelID, "agent_id", rec.AgentID, "tick_id", tickID, "error", err)
			if ferr := s.leases.Fail(ctx, channelID, rec.AgentID, tickID, err.Error()); ferr != nil {
				s.logger.Warn("failing lease failed",
					"channel_id", channelID, "agent_id", rec.AgentID, "error", ferr)
			}
			continue
		}

		if err := s.leases.Complete(ctx, channelID, rec.AgentID, tickID); err != nil {
			s.logger.Warn("completing lease failed",
				"channel_id", channelID, "agent_id", rec.AgentID, "error", err)
		}
		if err := s.presence.RecordTurn(ctx, channelID, rec.AgentID); err != nil {
			s.logger.Warn("recording turn failed",
				"channel_id", channelID, "agent_id", rec.AgentID, "error", err)
		}
		taken++
	}

	if taken > 0 {
		s.logger.Info("ambient turns granted",
			"channel_id", channelID, "tick_id", tickID, "taken", taken, "k", k)
	}
	return taken, nil
}
