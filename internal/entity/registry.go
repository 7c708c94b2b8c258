package entity

import (
	"sync"

	"ubibot-go-home/internal/coordinator"
)

// Registry hands out the actuating entities so every inbound surface shares
// one instance per channel. Sharing matters for the switch: its optimistic
// state must be visible to whichever surface reads next, not trapped in a
// per-request throwaway. Entries are keyed to the coordinator they were
// built on, so a lookup after an options rewrite transparently rebuilds the
// entity on the replacement coordinator.
type Registry struct {
	manager *coordinator.Manager

	mu       sync.Mutex
	switches map[string]*SP1Switch
	numbers  map[string]*PollIntervalNumber
}

// NewRegistry creates a registry over the manager's coordinators.
func NewRegistry(manager *coordinator.Manager) *Registry {
	return &Registry{
		manager:  manager,
		switches: make(map[string]*SP1Switch),
		numbers:  make(map[string]*PollIntervalNumber),
	}
}

// Number returns the poll interval control for a channel. False when the
// channel is unknown.
func (r *Registry) Number(channelID string) (*PollIntervalNumber, bool) {
	c, ok := r.manager.Coordinator(channelID)
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.numbers[channelID]; ok && n.coord == c {
		return n, true
	}
	n := NewPollIntervalNumber(c, r.manager)
	r.numbers[channelID] = n
	return n, true
}

// Switch returns the relay control for a channel. False when the channel is
// unknown, has no snapshot yet, or is not the switchable product.
func (r *Registry) Switch(channelID string) (*SP1Switch, bool) {
	c, ok := r.manager.Coordinator(channelID)
	if !ok {
		return nil, false
	}
	snap, ok := c.Snapshot()
	if !ok || !IsSP1(snap.ProductID()) {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sw, ok := r.switches[channelID]; ok && sw.coord == c {
		return sw, true
	}
	sw := NewSP1Switch(c, r.manager.API())
	r.switches[channelID] = sw
	return sw, true
}
