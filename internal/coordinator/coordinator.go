// Package coordinator owns the per-channel polling loop. Every read of
// vendor data by an entity goes through a Coordinator's cached snapshot;
// the coordinator is the only writer of that cache.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ubibot-go-home/internal/ubibot"
)

// Polling period bounds in seconds.
const (
	MinPollSeconds     = 60
	MaxPollSeconds     = 3600
	DefaultPollSeconds = 600
)

// ClampPollSeconds bounds a requested polling period to [60, 3600].
func ClampPollSeconds(seconds int) int {
	if seconds < MinPollSeconds {
		return MinPollSeconds
	}
	if seconds > MaxPollSeconds {
		return MaxPollSeconds
	}
	return seconds
}

// ChannelFetcher fetches the current state of a single channel.
type ChannelFetcher interface {
	GetChannel(ctx context.Context, channelID string) (ubibot.Channel, error)
}

// Coordinator polls one channel at a configurable interval and caches the
// latest snapshot for its dependent entities.
//
// All refreshes run on the coordinator's own goroutine, so at most one
// fetch is ever in flight per channel. The cached snapshot is replaced
// wholesale on success and left untouched on failure: dependents read
// either the last good snapshot or nothing, never a partial update.
type Coordinator struct {
	channelID   string
	channelName string
	fetcher     ChannelFetcher
	events      *EventBus
	logger      *slog.Logger

	mu       sync.RWMutex
	snapshot ubibot.Channel
	lastErr  error
	interval time.Duration

	refreshCh  chan struct{} // coalesced out-of-cycle refresh requests
	intervalCh chan struct{} // wakes the loop to re-arm its timer

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a coordinator for one channel. seconds is clamped to the
// polling bounds. The loop does not run until Start.
func New(fetcher ChannelFetcher, channelID, channelName string, seconds int, events *EventBus, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		channelID:   channelID,
		channelName: channelName,
		fetcher:     fetcher,
		events:      events,
		logger:      logger.With("component", "coordinator", "channel", channelID),
		interval:    time.Duration(ClampPollSeconds(seconds)) * time.Second,
		refreshCh:   make(chan struct{}, 1),
		intervalCh:  make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// ChannelID returns the channel identifier this coordinator polls.
func (c *Coordinator) ChannelID() string { return c.channelID }

// ChannelName returns the configured display name.
func (c *Coordinator) ChannelName() string { return c.channelName }

// FirstRefresh performs the mandatory initial synchronous fetch. A failure
// propagates to the caller so entry setup can be reported not-ready and
// retried later; the coordinator does not retry on its own.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh for channel %s (%s): %w", c.channelName, c.channelID, err)
	}
	return nil
}

// Start launches the polling loop.
func (c *Coordinator) Start() {
	c.started = true
	go c.run()
}

// Stop cancels the loop and waits for it to exit. An in-flight refresh is
// abandoned; its result is discarded rather than written to the cache.
func (c *Coordinator) Stop() {
	c.cancel()
	if c.started {
		<-c.done
	}
}

// Snapshot returns the last good snapshot, or ok=false before the first
// successful refresh.
func (c *Coordinator) Snapshot() (ubibot.Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.snapshot != nil
}

// LastError returns the error recorded by the most recent refresh, or nil
// when the cache is fresh.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Interval returns the live polling period.
func (c *Coordinator) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// IntervalSeconds returns the live polling period in whole seconds.
func (c *Coordinator) IntervalSeconds() int {
	return int(c.Interval() / time.Second)
}

// SetInterval applies a new polling period to the live schedule, clamped to
// the bounds, and returns the applied value. The very next wait uses the
// new period; an in-flight refresh is unaffected. Persistence is the
// caller's concern — this never blocks on it.
func (c *Coordinator) SetInterval(seconds int) int {
	applied := ClampPollSeconds(seconds)
	d := time.Duration(applied) * time.Second

	c.mu.Lock()
	changed := c.interval != d
	c.interval = d
	c.mu.Unlock()

	if changed {
		select {
		case c.intervalCh <- struct{}{}:
		default:
		}
		c.events.Emit(Event{Type: EventIntervalChanged, Data: map[string]any{
			"channel_id": c.channelID,
			"seconds":    applied,
		}})
		c.logger.Info("poll interval changed", "seconds", applied)
	}
	return applied
}

// RequestRefresh asks for an out-of-cycle refresh without changing the
// scheduled cadence. Requests made while a refresh is pending or running
// coalesce into a single fetch.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-timer.C:
			if err := c.refresh(c.ctx); err != nil {
				c.logger.Warn("scheduled refresh failed", "err", err)
			}
			timer.Reset(c.Interval())

		case <-c.refreshCh:
			if err := c.refresh(c.ctx); err != nil {
				c.logger.Warn("requested refresh failed", "err", err)
			}
			resetTimer(timer, c.Interval())

		case <-c.intervalCh:
			resetTimer(timer, c.Interval())
		}
	}
}

// resetTimer re-arms a timer that has not fired yet.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// refresh fetches the channel and atomically replaces the cached snapshot.
// On failure the previous snapshot stays readable and the error is recorded
// for dependents.
func (c *Coordinator) refresh(ctx context.Context) error {
	ch, err := c.fetcher.GetChannel(ctx, c.channelID)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.events.Emit(Event{Type: EventRefreshFailed, Data: map[string]any{
			"channel_id": c.channelID,
			"error":      err.Error(),
		}})
		return err
	}

	// Teardown may have raced the fetch; never write the cache after Stop.
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}

	c.mu.Lock()
	c.snapshot = ch
	c.lastErr = nil
	c.mu.Unlock()

	c.events.Emit(Event{Type: EventSnapshotUpdated, Data: map[string]any{
		"channel_id": c.channelID,
	}})
	return nil
}
