package entity

import (
	"context"
	"strings"
	"sync"

	"ubibot-go-home/internal/coordinator"
)

// SP1ProductID identifies the one product model with a controllable relay.
const SP1ProductID = "ubibot-sp1a"

// stateAliases are the last-values keys that may carry the relay state,
// checked in order; the first one present wins.
var stateAliases = []string{"port1_state", "switch", "relay", "sp1_state", "switch_state"}

// truthTokens are the string spellings accepted as "on".
var truthTokens = map[string]bool{"on": true, "1": true, "true": true, "enabled": true}

// IsSP1 reports whether a product identifier names the switchable model.
func IsSP1(productID string) bool {
	return strings.EqualFold(productID, SP1ProductID)
}

// Commander sends a relay command to the vendor.
type Commander interface {
	SendCommand(ctx context.Context, channelID string, setState int) error
}

// SP1Switch controls the relay on an SP1 smart plug channel.
//
// State reads prefer the cached snapshot: the first known alias present in
// last-values is authoritative. Only when the vendor omits every alias does
// the switch fall back to the last state it set optimistically, so a
// successful command shows immediately while the next refresh is pending.
type SP1Switch struct {
	coord     *coordinator.Coordinator
	commander Commander

	mu         sync.Mutex
	optimistic *bool
}

// NewSP1Switch builds the switch entity for one SP1 channel.
func NewSP1Switch(coord *coordinator.Coordinator, commander Commander) *SP1Switch {
	return &SP1Switch{coord: coord, commander: commander}
}

// UniqueID returns the stable entity identifier.
func (s *SP1Switch) UniqueID() string {
	return "ubibot_" + s.coord.ChannelID() + "_switch"
}

// Name returns the display name.
func (s *SP1Switch) Name() string {
	return s.coord.ChannelName() + " Switch"
}

// State reports the relay state. known=false means neither the snapshot nor
// an earlier optimistic write can answer.
func (s *SP1Switch) State() (on, known bool) {
	if snap, ok := s.coord.Snapshot(); ok {
		values := snap.LastValues()
		for _, alias := range stateAliases {
			if v, present := values[alias]; present {
				return truthy(v), true
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.optimistic != nil {
		return *s.optimistic, true
	}
	return false, false
}

// TurnOn closes the relay.
func (s *SP1Switch) TurnOn(ctx context.Context) error {
	return s.command(ctx, 1)
}

// TurnOff opens the relay.
func (s *SP1Switch) TurnOff(ctx context.Context) error {
	return s.command(ctx, 0)
}

// command sends the state change, records the optimistic belief on success,
// and requests a refresh so the next snapshot reconciles it.
func (s *SP1Switch) command(ctx context.Context, setState int) error {
	if err := s.commander.SendCommand(ctx, s.coord.ChannelID(), setState); err != nil {
		return err
	}

	on := setState == 1
	s.mu.Lock()
	s.optimistic = &on
	s.mu.Unlock()

	s.coord.RequestRefresh()
	return nil
}

// truthy casts an observed alias value to a relay state. Numbers are
// nonzero-true; strings must match a truth token; a nested observation
// carrying a "value" subfield is unwrapped first.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return truthTokens[strings.ToLower(strings.TrimSpace(t))]
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return truthy(inner)
		}
		return false
	default:
		return false
	}
}
