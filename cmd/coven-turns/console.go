// ABOUTME: Console chat backend for local development
// ABOUTME: Channels live in config, activity in the store, replies print to stdout

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-turns/internal/directory"
	"github.com/2389/coven-turns/internal/scheduler"
	"github.com/2389/coven-turns/internal/store"
)

// consoleHandle is a send-capable reference to a console channel.
type consoleHandle struct {
	id string
}

func (h consoleHandle) ChannelID() string { return h.id }

// consoleGateway implements scheduler.ChatGateway and
// scheduler.ResponseDelivery against the terminal: channel routing comes
// from the configured directory, activity and human counts from the store,
// and "sending" prints the agent's line to stdout.
type consoleGateway struct {
	dir   *directory.Directory
	store store.Store
}

func newConsoleGateway(dir *directory.Directory, st store.Store) *consoleGateway {
	return &consoleGateway{dir: dir, store: st}
}

func (g *consoleGateway) ResolveCommunityForChannel(ctx context.Context, channelID string) (string, error) {
	return g.dir.CommunityForChannel(channelID)
}

func (g *consoleGateway) ResolveChannelHandle(ctx context.Context, channelID string) (scheduler.ChannelHandle, error) {
	if _, err := g.dir.CommunityForChannel(channelID); err != nil {
		// Not an error: the channel is simply not reachable from here
		return nil, nil
	}
	return consoleHandle{id: channelID}, nil
}

func (g *consoleGateway) ListActiveChannels(ctx context.Context, limit int) ([]string, error) {
	activities, err := g.store.ListActiveChannels(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active channels: %w", err)
	}
	channels := make([]string, 0, len(activities))
	for _, a := range activities {
		channels = append(channels, a.ChannelID)
	}
	return channels, nil
}

func (g *consoleGateway) CountRecentHumans(ctx context.Context, channelID string, window time.Duration) (int, error) {
	return g.store.CountRecentHumans(ctx, channelID, time.Now().Add(-window))
}

// Send prints the agent's turn and records it as channel activity so the
// agent shows up in subsequent activity scans like any other sender.
func (g *consoleGateway) Send(ctx context.Context, handle scheduler.ChannelHandle, agent *directory.Agent, humanMessage *scheduler.HumanMessage, opts scheduler.DeliveryOptions) error {
	channel := color.HiBlackString("[%s]", handle.ChannelID())
	name := color.CyanString(agent.DisplayName)
	if agent.Emoji != "" {
		name = agent.Emoji + " " + name
	}

	if humanMessage != nil {
		fmt.Printf("%s %s replies to %s\n", channel, name, humanMessage.SenderName)
	} else {
		fmt.Printf("%s %s takes an ambient turn\n", channel, name)
	}

	if err := g.store.TouchChannelActivity(ctx, handle.ChannelID(), agent.ID, false, time.Now()); err != nil {
		return fmt.Errorf("recording agent activity: %w", err)
	}
	return nil
}
