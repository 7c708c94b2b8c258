package entity

import (
	"math"

	"ubibot-go-home/internal/coordinator"
)

// IntervalPersister queues a poll interval write to durable configuration.
// Best effort; the entity never waits on it.
type IntervalPersister interface {
	EnqueuePersistPollSeconds(channelID string, seconds int)
}

// PollIntervalNumber is the writable control for a channel's polling period.
type PollIntervalNumber struct {
	coord     *coordinator.Coordinator
	persister IntervalPersister
}

// NewPollIntervalNumber builds the control for one channel.
func NewPollIntervalNumber(coord *coordinator.Coordinator, persister IntervalPersister) *PollIntervalNumber {
	return &PollIntervalNumber{coord: coord, persister: persister}
}

// UniqueID returns the stable entity identifier.
func (n *PollIntervalNumber) UniqueID() string {
	return "ubibot_" + n.coord.ChannelID() + "_poll_interval"
}

// Name returns the display name.
func (n *PollIntervalNumber) Name() string {
	return n.coord.ChannelName() + " Poll Interval"
}

// Min, Max, and Step describe the control's range in seconds.
func (n *PollIntervalNumber) Min() int  { return coordinator.MinPollSeconds }
func (n *PollIntervalNumber) Max() int  { return coordinator.MaxPollSeconds }
func (n *PollIntervalNumber) Step() int { return 10 }

// Value returns the live polling period in seconds.
func (n *PollIntervalNumber) Value() int {
	return n.coord.IntervalSeconds()
}

// SetValue changes the polling period. The value is clamped to the bounds
// (an unparseable value falls back to the minimum, never a rejection),
// applied to the live schedule synchronously, queued for background
// persistence, and followed by an immediate refresh request so readers see
// current data under the new cadence. Returns the applied value.
func (n *PollIntervalNumber) SetValue(value float64) int {
	seconds := coordinator.MinPollSeconds
	if !math.IsNaN(value) && !math.IsInf(value, 0) {
		seconds = int(math.Round(value))
	}

	applied := n.coord.SetInterval(seconds)
	n.persister.EnqueuePersistPollSeconds(n.coord.ChannelID(), applied)
	n.coord.RequestRefresh()
	return applied
}
