// ABOUTME: Ambient sweep: visit recently-active channels under a global budget
// ABOUTME: Never propagates an error or panic to the task runner

package scheduler

import "context"

// Sweep runs one ambient pass: the most recently active channels are
// visited in rank order until the global turn budget is spent. A failing
// channel is logged and skipped; the sweep itself never returns an error
// to its invoker.
func (s *Scheduler) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "panic", r)
		}
	}()

	channels, err := s.chat.ListActiveChannels(ctx, s.cfg.ChannelScanLimit)
	if err != nil {
		s.logger.Error("listing active channels failed", "error", err)
		return
	}

	remaining := s.cfg.SweepBudget
	visited := 0
	granted := 0
	for _, channelID := range channels {
		if remaining <= 0 {
			break
		}
		if ctx.Err() != nil {
			s.logger.Debug("sweep cancelled", "visited", visited)
			return
		}

		taken, err := s.ProcessChannelTick(ctx, channelID, remaining)
		visited++
		if err != nil {
			s.logger.Error("channel tick failed",
				"channel_id", channelID, "error", err)
			continue
		}
		remaining -= taken
		granted += taken
	}

	s.logger.Debug("sweep complete",
		"channels_visited", visited,
		"turns_granted", granted,
		"budget_remaining", remaining)
}
