package ranklist

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// monitor is one live-tracking loop. There is at most one per contest id.
type monitor struct {
	contestID int64
	cancel    context.CancelFunc
	done      chan struct{}
	snap      atomic.Pointer[Ranklist]
	failures  atomic.Int64
}

// Monitor starts live tracking of a contest. Starting twice for the same
// contest id is a no-op; exactly one poll loop runs per contest. Monitoring
// a finished contest is rejected with ErrContestNotLive.
func (c *Cache) Monitor(ctx context.Context, contestID int64) error {
	contest, err := c.contests.Contest(contestID)
	if err != nil {
		return err
	}
	if contest.Phase(c.now()) == model.PhaseFinished {
		return fmt.Errorf("%w: %d", ErrContestNotLive, contestID)
	}

	c.mu.Lock()
	if _, ok := c.monitors[contestID]; ok {
		c.mu.Unlock()
		return nil
	}
	// The loop outlives the caller's request; only StopMonitor or the
	// contest finishing ends it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &monitor{contestID: contestID, cancel: cancel, done: make(chan struct{})}
	c.monitors[contestID] = m
	c.active.Add(1)
	metrics.UpdateMonitoredContests(int(c.active.Load()))
	c.mu.Unlock()

	c.logger.Info(ctx, "monitoring started", logger.Int64("contestID", contestID))

	// Seed the first snapshot before the loop so a read right after a
	// successful start never races the first tick. A failure here is the
	// same as any failed poll: logged and retried.
	c.poll(loopCtx, m)

	go c.run(loopCtx, m)
	return nil
}

// StopMonitor cancels a contest's monitor loop, if any.
func (c *Cache) StopMonitor(contestID int64) {
	c.mu.Lock()
	m := c.monitors[contestID]
	c.mu.Unlock()
	if m == nil {
		return
	}
	m.cancel()
	<-m.done
}

// StopAll cancels every running monitor loop and waits for them to retire.
func (c *Cache) StopAll() {
	c.mu.Lock()
	monitors := make([]*monitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		monitors = append(monitors, m)
	}
	c.mu.Unlock()
	for _, m := range monitors {
		m.cancel()
		<-m.done
	}
}

// run polls standings until the contest finishes or ctx is canceled.
func (c *Cache) run(ctx context.Context, m *monitor) {
	defer c.retire(ctx, m)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		contest, err := c.contests.Contest(m.contestID)
		if err == nil && contest.Phase(c.now()) == model.PhaseFinished {
			c.finish(ctx, m)
			return
		}
		c.poll(ctx, m)
	}
}

// poll rebuilds the snapshot once. Failures are swallowed: logged, counted,
// retried on the next tick. Monitoring is never auto-cancelled on failure.
func (c *Cache) poll(ctx context.Context, m *monitor) {
	rl, err := c.Generate(ctx, m.contestID, false)
	if err != nil {
		streak := m.failures.Add(1)
		metrics.RecordMonitorPoll("failure")
		metrics.UpdateMonitorFailStreak(contestLabel(m.contestID), int(streak))
		if int(streak) >= c.warnStreak {
			c.logger.Warn(ctx, "monitor polls failing persistently",
				logger.Int64("contestID", m.contestID),
				logger.Int64("streak", streak),
				logger.Error(err))
		} else {
			c.logger.Debug(ctx, "monitor poll failed",
				logger.Int64("contestID", m.contestID), logger.Error(err))
		}
		return
	}

	m.snap.Store(rl)
	m.failures.Store(0)
	metrics.RecordMonitorPoll("success")
	metrics.UpdateMonitorFailStreak(contestLabel(m.contestID), 0)
}

// finish runs the final fetch-with-rating-changes and seeds the
// finished-contest memo before the monitor retires.
func (c *Cache) finish(ctx context.Context, m *monitor) {
	rl, err := c.Generate(ctx, m.contestID, true)
	if err != nil {
		// The next Get for the finished contest will generate on demand.
		c.logger.Warn(ctx, "final ranklist fetch failed",
			logger.Int64("contestID", m.contestID), logger.Error(err))
		return
	}
	c.mu.Lock()
	c.memo[m.contestID] = memoEntry{rl: rl, at: c.now()}
	c.mu.Unlock()
	c.logger.Info(ctx, "monitoring finished", logger.Int64("contestID", m.contestID))
}

// retire removes the monitor and transitions the contest to NotMonitored.
func (c *Cache) retire(ctx context.Context, m *monitor) {
	c.mu.Lock()
	delete(c.monitors, m.contestID)
	c.active.Add(-1)
	metrics.UpdateMonitoredContests(int(c.active.Load()))
	c.mu.Unlock()
	close(m.done)
	c.logger.Debug(ctx, "monitor retired", logger.Int64("contestID", m.contestID))
}
