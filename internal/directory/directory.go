// ABOUTME: Config-backed agent directory and channel-to-community mapping
// ABOUTME: Immutable after construction; lookups are read-only and safe to share

package directory

import (
	"context"
	"fmt"

	"github.com/2389/coven-turns/internal/config"
)

// Agent is one entry in a community roster
type Agent struct {
	ID          string
	DisplayName string
	Emoji       string
}

// Directory resolves agents and the community owning a channel. It is built
// once from configuration and never mutated afterwards.
type Directory struct {
	byCommunity      map[string][]Agent
	byID             map[string]Agent
	channelCommunity map[string]string
}

// FromConfig builds a directory from the configured community rosters
func FromConfig(communities []config.CommunityConfig) *Directory {
	d := &Directory{
		byCommunity:      make(map[string][]Agent),
		byID:             make(map[string]Agent),
		channelCommunity: make(map[string]string),
	}

	for _, community := range communities {
		for _, ch := range community.Channels {
			d.channelCommunity[ch] = community.ID
		}
		for _, a := range community.Agents {
			agent := Agent{ID: a.ID, DisplayName: a.DisplayName, Emoji: a.Emoji}
			d.byCommunity[community.ID] = append(d.byCommunity[community.ID], agent)
			d.byID[a.ID] = agent
		}
	}

	return d
}

// CommunityForChannel returns the community that owns the channel
func (d *Directory) CommunityForChannel(channelID string) (string, error) {
	communityID, ok := d.channelCommunity[channelID]
	if !ok {
		return "", fmt.Errorf("channel %s belongs to no configured community", channelID)
	}
	return communityID, nil
}

// ListAgentsInChannel returns the roster of the community owning the channel.
// The channelID parameter exists for symmetry with directory backends that
// scope rosters per channel; this one keys purely off the community.
func (d *Directory) ListAgentsInChannel(ctx context.Context, channelID, communityID string) ([]Agent, error) {
	agents, ok := d.byCommunity[communityID]
	if !ok {
		return nil, nil
	}
	out := make([]Agent, len(agents))
	copy(out, agents)
	return out, nil
}

// GetAgentByID returns the agent's profile, or nil if unknown
func (d *Directory) GetAgentByID(ctx context.Context, id string) (*Agent, error) {
	agent, ok := d.byID[id]
	if !ok {
		return nil, nil
	}
	a := agent
	return &a, nil
}
