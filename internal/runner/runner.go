// ABOUTME: Jittered periodic task runner for background work
// ABOUTME: Each task runs on its own goroutine; Stop waits for all of them

package runner

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Runner executes named tasks on a jittered interval. Jitter desynchronizes
// tasks that share an interval so they don't all hit storage at once.
type Runner struct {
	jitter time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Runner. Each firing is delayed by a uniform offset in
// [-jitter, +jitter] around the task's interval.
func New(jitter time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		jitter: jitter,
		logger: logger.With("component", "runner"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask schedules task to run every interval until Stop. The first run
// happens one (jittered) interval after registration, not immediately.
func (r *Runner) AddTask(name string, task func(ctx context.Context), interval time.Duration) {
	r.wg.Add(1)
	go r.loop(name, task, interval)
	r.logger.Debug("task registered", "task", name, "interval", interval)
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) loop(name string, task func(ctx context.Context), interval time.Duration) {
	defer r.wg.Done()

	timer := time.NewTimer(r.nextDelay(interval))
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
			r.run(name, task)
			timer.Reset(r.nextDelay(interval))
		}
	}
}

// run invokes the task, containing panics so one bad run doesn't kill the
// task's goroutine or its siblings.
func (r *Runner) run(name string, task func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", "task", name, "panic", rec)
		}
	}()
	task(r.ctx)
}

func (r *Runner) nextDelay(interval time.Duration) time.Duration {
	if r.jitter <= 0 {
		return interval
	}
	delay := interval + time.Duration(rand.Int63n(int64(2*r.jitter))) - r.jitter
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}
