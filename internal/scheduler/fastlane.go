// ABOUTME: Human fast lane: immediate turns for mentioned agents
// ABOUTME: Shares tick identity and lease arbitration with the ambient sweep

package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/coven-turns/internal/directory"
	"github.com/2389/coven-turns/internal/store"
)

// HandleHumanMessage reacts to an inbound human message: it suppresses
// ambient turns for the channel, records mentions, and grants the first
// mentioned agent an immediate turn. Returns true if an agent replied.
//
// The current tick is read, never advanced: fast-lane leases live in the
// same (channel, agent, tick) identity space as ambient ones, so a
// concurrently running sweep and this handler contend on the lease rather
// than double-granting a turn.
func (s *Scheduler) HandleHumanMessage(ctx context.Context, msg *HumanMessage) (bool, error) {
	// Before anything else: keep the next ambient pass off this channel
	s.window.Refresh(msg.ChannelID)

	communityID, err := s.chat.ResolveCommunityForChannel(ctx, msg.ChannelID)
	if err != nil {
		s.logger.Debug("message from unroutable channel",
			"channel_id", msg.ChannelID, "error", err)
		return false, nil
	}

	roster, err := s.directory.ListAgentsInChannel(ctx, msg.ChannelID, communityID)
	if err != nil {
		return false, fmt.Errorf("listing roster for %s: %w", msg.ChannelID, err)
	}
	for _, agent := range roster {
		if err := s.presence.EnsurePresence(ctx, msg.ChannelID, agent.ID); err != nil {
			s.logger.Warn("ensure presence failed",
				"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", err)
		}
	}

	matched := matchMentions(msg.Text, roster)
	if len(matched) == 0 {
		return false, nil
	}

	for _, agent := range matched {
		if err := s.presence.RecordMention(ctx, msg.ChannelID, agent.ID); err != nil {
			s.logger.Warn("recording mention failed",
				"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", err)
		}
		rec, err := s.presence.GetPresence(ctx, msg.ChannelID, agent.ID)
		if err == nil && rec.PriorityPins == 0 {
			if err := s.presence.GrantPriorityTurns(ctx, msg.ChannelID, agent.ID, 1); err != nil {
				s.logger.Warn("granting priority turn failed",
					"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", err)
			}
		}
	}

	tickID, err := s.ticks.Current(ctx, msg.ChannelID)
	if err != nil {
		return false, err
	}

	handle, err := s.chat.ResolveChannelHandle(ctx, msg.ChannelID)
	if err != nil || handle == nil {
		s.logger.Debug("channel unreachable for fast lane",
			"channel_id", msg.ChannelID, "error", err)
		return false, nil
	}

	// One reply per human message: stop at the first success
	for _, agent := range matched {
		ok, err := s.leases.TryAcquire(ctx, msg.ChannelID, agent.ID, tickID, store.LeaseModeFastLane)
		if err != nil {
			return false, fmt.Errorf("acquiring fast-lane lease for %s: %w", agent.ID, err)
		}
		if !ok {
			continue
		}

		profile, err := s.directory.GetAgentByID(ctx, agent.ID)
		if err != nil || profile == nil {
			if cerr := s.leases.Complete(ctx, msg.ChannelID, agent.ID, tickID); cerr != nil {
				s.logger.Warn("settling empty lease failed",
					"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", cerr)
			}
			continue
		}

		if err := s.delivery.Send(ctx, handle, profile, msg, DeliveryOptions{OverrideCooldown: true}); err != nil {
			s.logger.Warn("fast-lane delivery failed",
				"channel_id", msg.ChannelID, "agent_id", agent.ID, "tick_id", tickID, "error", err)
			if ferr := s.leases.Fail(ctx, msg.ChannelID, agent.ID, tickID, err.Error()); ferr != nil {
				s.logger.Warn("failing lease failed",
					"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", ferr)
			}
			continue
		}

		if err := s.leases.Complete(ctx, msg.ChannelID, agent.ID, tickID); err != nil {
			s.logger.Warn("completing lease failed",
				"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", err)
		}
		if err := s.presence.RecordTurn(ctx, msg.ChannelID, agent.ID); err != nil {
			s.logger.Warn("recording turn failed",
				"channel_id", msg.ChannelID, "agent_id", agent.ID, "error", err)
		}

		s.logger.Info("fast-lane turn granted",
			"channel_id", msg.ChannelID, "agent_id", agent.ID, "tick_id", tickID)
		return true, nil
	}

	return false, nil
}

// matchMentions finds roster agents whose display name or emoji appears in
// the message (names case-insensitively), ordered by first occurrence.
func matchMentions(text string, roster []directory.Agent) []directory.Agent {
	lower := strings.ToLower(text)

	type match struct {
		agent directory.Agent
		index int
	}
	var matches []match
	for _, agent := range roster {
		index := -1
		if agent.DisplayName != "" {
			index = strings.Index(lower, strings.ToLower(agent.DisplayName))
		}
		if agent.Emoji != "" {
			if i := strings.Index(text, agent.Emoji); i >= 0 && (index < 0 || i < index) {
				index = i
			}
		}
		if index >= 0 {
			matches = append(matches, match{agent: agent, index: index})
		}
	}

	slices.SortStableFunc(matches, func(a, b match) int { return a.index - b.index })

	agents := make([]directory.Agent, len(matches))
	for i, m := range matches {
		agents[i] = m.agent
	}
	return agents
}
