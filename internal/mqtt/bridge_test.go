//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/entity"
	"ubibot-go-home/internal/ubibot"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticFetcher struct {
	mu      sync.Mutex
	channel ubibot.Channel
}

func (f *staticFetcher) GetChannel(ctx context.Context, channelID string) (ubibot.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel, nil
}

type nopPersister struct{}

func (nopPersister) EnqueuePersistPollSeconds(string, int) {}

type nopCommander struct{}

func (nopCommander) SendCommand(context.Context, string, int) error { return nil }

func newTestBinding(t *testing.T, ch ubibot.Channel, name string, selected []string) *binding {
	t.Helper()
	c := coordinator.New(&staticFetcher{channel: ch}, ch.ID(), name,
		coordinator.DefaultPollSeconds, coordinator.NewEventBus(newTestLogger()), newTestLogger())
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	bd := &binding{
		coord:   c,
		sensors: entity.BuildFieldSensors(c, selected),
		number:  entity.NewPollIntervalNumber(c, nopPersister{}),
	}
	if snap, ok := c.Snapshot(); ok && entity.IsSP1(snap.ProductID()) {
		bd.sw = entity.NewSP1Switch(c, nopCommander{})
	}
	return bd
}

func TestChannelTopicName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Office", "office"},
		{"Living Room 2", "living_room_2"},
		{"греющий", "100"}, // nothing sanitizable left, fall back to id
	}
	for _, tt := range tests {
		bd := newTestBinding(t, ubibot.Channel{"channel_id": "100"}, tt.name, nil)
		if got := channelTopicName(bd.coord); got != tt.want {
			t.Errorf("channelTopicName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestBuildDiscoverySensorsAndNumber(t *testing.T) {
	bd := newTestBinding(t, ubibot.Channel{
		"channel_id":  "100",
		"Field1":      "Temperature",
		"last_values": map[string]any{"field1": "22.5", "field2": "60"},
	}, "Office", []string{"field1"})

	msgs := buildDiscovery(bd, "ubibot")
	if len(msgs) != 3 {
		t.Fatalf("got %d discovery messages, want 2 sensors + 1 number", len(msgs))
	}

	byTopic := make(map[string]haDiscovery, len(msgs))
	for _, m := range msgs {
		var d haDiscovery
		if err := json.Unmarshal(m.Payload, &d); err != nil {
			t.Fatalf("bad payload on %s: %v", m.Topic, err)
		}
		byTopic[m.Topic] = d
	}

	temp, ok := byTopic["homeassistant/sensor/ubibot_100/field1/config"]
	if !ok {
		t.Fatal("field1 sensor discovery missing")
	}
	if temp.DeviceClass != "temperature" || temp.UnitOfMeasurement != "°C" {
		t.Errorf("field1 discovery = %+v", temp)
	}
	if temp.StateTopic != "ubibot/office" {
		t.Errorf("state topic = %q", temp.StateTopic)
	}
	if temp.EnabledByDefault == nil || !*temp.EnabledByDefault {
		t.Error("selected field not enabled by default")
	}

	// field2 is outside the selection: discovered but disabled.
	hum := byTopic["homeassistant/sensor/ubibot_100/field2/config"]
	if hum.EnabledByDefault == nil || *hum.EnabledByDefault {
		t.Error("unselected field enabled by default")
	}

	num, ok := byTopic["homeassistant/number/ubibot_100/poll_interval/config"]
	if !ok {
		t.Fatal("poll interval number discovery missing")
	}
	if num.Min != 60 || num.Max != 3600 {
		t.Errorf("number bounds = [%d, %d], want [60, 3600]", num.Min, num.Max)
	}
	if num.CommandTopic != "ubibot/office/poll_interval/set" {
		t.Errorf("number command topic = %q", num.CommandTopic)
	}
}

func TestBuildDiscoveryIncludesSwitchForSP1(t *testing.T) {
	bd := newTestBinding(t, ubibot.Channel{
		"channel_id":  "200",
		"product_id":  "UBIBOT-SP1A",
		"last_values": map[string]any{"port1_state": 1.0},
	}, "Plug", nil)
	if bd.sw == nil {
		t.Fatal("no switch entity for sp1 product")
	}

	msgs := buildDiscovery(bd, "ubibot")
	var found bool
	for _, m := range msgs {
		if m.Topic == "homeassistant/switch/ubibot_200/switch/config" {
			found = true
			var d haDiscovery
			if err := json.Unmarshal(m.Payload, &d); err != nil {
				t.Fatal(err)
			}
			if d.CommandTopic != "ubibot/plug/set" {
				t.Errorf("switch command topic = %q", d.CommandTopic)
			}
		}
	}
	if !found {
		t.Error("switch discovery missing")
	}
}

func TestBuildState(t *testing.T) {
	bd := newTestBinding(t, ubibot.Channel{
		"channel_id": "200",
		"product_id": "ubibot-sp1a",
		"Field1":     "Temperature",
		"last_values": map[string]any{
			"field1":      "22.5",
			"port1_state": 1.0,
		},
	}, "Plug", nil)

	var state map[string]any
	if err := json.Unmarshal(buildState(bd), &state); err != nil {
		t.Fatal(err)
	}
	if state["field1"] != "22.5" {
		t.Errorf("field1 = %v", state["field1"])
	}
	if state["poll_interval"] != float64(coordinator.DefaultPollSeconds) {
		t.Errorf("poll_interval = %v", state["poll_interval"])
	}
	if state["state"] != "ON" {
		t.Errorf("switch state = %v", state["state"])
	}
	if _, ok := state["last_error"]; ok {
		t.Error("last_error present on healthy channel")
	}
}

func TestBuildStateOmitsUnknownSwitch(t *testing.T) {
	bd := newTestBinding(t, ubibot.Channel{
		"channel_id":  "200",
		"product_id":  "ubibot-sp1a",
		"last_values": map[string]any{"field1": "1"},
	}, "Plug", nil)

	var state map[string]any
	if err := json.Unmarshal(buildState(bd), &state); err != nil {
		t.Fatal(err)
	}
	if _, ok := state["state"]; ok {
		t.Error("unknown switch state published")
	}
}

func TestBuildRemoveDiscoveryCoversAllEntities(t *testing.T) {
	bd := newTestBinding(t, ubibot.Channel{
		"channel_id":  "200",
		"product_id":  "ubibot-sp1a",
		"last_values": map[string]any{"field1": "1", "port1_state": 0.0},
	}, "Plug", nil)

	msgs := buildRemoveDiscovery(bd)
	if len(msgs) != len(bd.sensors)+2 {
		t.Fatalf("got %d removal messages, want %d", len(msgs), len(bd.sensors)+2)
	}
	for _, m := range msgs {
		if len(m.Payload) != 0 {
			t.Errorf("removal for %s carries a payload", m.Topic)
		}
		if !strings.HasPrefix(m.Topic, "homeassistant/") || !strings.HasSuffix(m.Topic, "/config") {
			t.Errorf("unexpected removal topic %s", m.Topic)
		}
	}
}
