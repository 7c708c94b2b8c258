//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"ubibot-go-home/internal/coordinator"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/ubibot_100/field1/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Min               int      `json:"min,omitempty"`
	Max               int      `json:"max,omitempty"`
	Step              int      `json:"step,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	EnabledByDefault  *bool    `json:"enabled_by_default,omitempty"`
	Device            haDevice `json:"device"`
}

// channelIdentifier returns the unique identifier for the HA device registry.
func channelIdentifier(c *coordinator.Coordinator) string {
	return "ubibot_" + c.ChannelID()
}

// channelTopicName returns the topic segment for a channel: the sanitized
// display name, or the channel id when no name is set.
func channelTopicName(c *coordinator.Coordinator) string {
	name := strings.ToLower(c.ChannelName())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	if strings.Trim(name, "_") == "" {
		return c.ChannelID()
	}
	return name
}

func channelDevice(c *coordinator.Coordinator) haDevice {
	model := "channel"
	if snap, ok := c.Snapshot(); ok && snap.ProductID() != "" {
		model = snap.ProductID()
	}
	return haDevice{
		Identifiers:  []string{channelIdentifier(c)},
		Manufacturer: "UbiBot",
		Model:        model,
		Name:         c.ChannelName(),
	}
}

// buildDiscovery generates the HA discovery set for one channel: a sensor
// per derived field, the poll-interval number, and a switch when the channel
// is a controllable plug.
func buildDiscovery(b *binding, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + channelTopicName(b.coord)
	nodeID := channelIdentifier(b.coord)
	haDev := channelDevice(b.coord)

	var msgs []discoveryMsg
	for _, s := range b.sensors {
		enabled := s.EnabledDefault()
		topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, s.FieldKey())
		payload := haDiscovery{
			Name:              s.Name(),
			UniqueID:          s.UniqueID(),
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.FieldKey()),
			UnitOfMeasurement: s.Unit(),
			DeviceClass:       string(s.DeviceClass()),
			StateClass:        "measurement",
			EnabledByDefault:  &enabled,
			Device:            haDev,
		}
		msgs = append(msgs, discoveryMsg{Topic: topic, Payload: mustJSON(payload)})
	}

	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("homeassistant/number/%s/poll_interval/config", nodeID),
		Payload: mustJSON(haDiscovery{
			Name:              b.number.Name(),
			UniqueID:          b.number.UniqueID(),
			StateTopic:        stateTopic,
			CommandTopic:      stateTopic + "/poll_interval/set",
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ value_json.poll_interval }}",
			UnitOfMeasurement: "s",
			Min:               b.number.Min(),
			Max:               b.number.Max(),
			Step:              b.number.Step(),
			EntityCategory:    "config",
			Device:            haDev,
		}),
	})

	if b.sw != nil {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/switch/%s/switch/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              b.sw.Name(),
				UniqueID:          b.sw.UniqueID(),
				StateTopic:        stateTopic,
				CommandTopic:      stateTopic + "/set",
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.state }}",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				Device:            haDev,
			}),
		})
	}
	return msgs
}

// buildRemoveDiscovery generates empty retained messages that delete a
// channel's entities from HA after the user drops it from the selection.
func buildRemoveDiscovery(b *binding) []discoveryMsg {
	nodeID := channelIdentifier(b.coord)

	var msgs []discoveryMsg
	for _, s := range b.sensors {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, s.FieldKey()),
		})
	}
	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("homeassistant/number/%s/poll_interval/config", nodeID),
	})
	if b.sw != nil {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/switch/%s/switch/config", nodeID),
		})
	}
	return msgs
}

// buildState renders the channel's retained state payload: one entry per
// derived field, the live poll interval, the switch state when known, and
// the last refresh error when the cache is stale.
func buildState(b *binding) []byte {
	state := make(map[string]any, len(b.sensors)+3)
	for _, s := range b.sensors {
		if v, ok := s.Value(); ok {
			state[s.FieldKey()] = v
		}
	}
	state["poll_interval"] = b.number.Value()
	if b.sw != nil {
		if on, known := b.sw.State(); known {
			if on {
				state["state"] = "ON"
			} else {
				state["state"] = "OFF"
			}
		}
	}
	if err := b.coord.LastError(); err != nil {
		state["last_error"] = err.Error()
	}
	return mustJSON(state)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
