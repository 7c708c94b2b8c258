//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/entity"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// binding is one channel's entity set, rebuilt whenever the channel
// selection changes. The number and switch come from the shared registry so
// commands arriving here act on the same instances the other surfaces use.
type binding struct {
	coord   *coordinator.Coordinator
	sensors []*entity.FieldSensor
	number  *entity.PollIntervalNumber
	sw      *entity.SP1Switch
}

// Bridge publishes channel state to MQTT with Home Assistant autodiscovery
// and accepts switch and poll-interval commands back over the same broker.
type Bridge struct {
	client   pahomqtt.Client
	manager  *coordinator.Manager
	entities *entity.Registry
	prefix   string
	logger  *slog.Logger
	unsub   func()
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	bindings map[string]*binding // channel id -> entities
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(manager *coordinator.Manager, entities *entity.Registry, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		manager:  manager,
		entities: entities,
		prefix:   cfg.TopicPrefix,
		logger:   logger.With("component", "mqtt"),
		bindings: make(map[string]*binding),
		ctx:      ctx,
		cancel:   cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("ubibot-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.syncChannels()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to coordinator events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.manager.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventSnapshotUpdated, coordinator.EventIntervalChanged:
		data, ok := event.Data.(map[string]any)
		if !ok {
			return
		}
		channelID, _ := data["channel_id"].(string)
		if channelID != "" {
			b.publishChannelState(channelID)
		}
	case coordinator.EventEntryReloaded:
		b.syncChannels()
	}
}

// syncChannels rebuilds the entity bindings from the manager's current
// channel set, publishes discovery and state for every live channel, and
// deletes the retained discovery of channels that were dropped.
func (b *Bridge) syncChannels() {
	coords := b.manager.Coordinators()

	next := make(map[string]*binding, len(coords))
	for _, c := range coords {
		bd := &binding{
			coord:   c,
			sensors: entity.BuildFieldSensors(c, b.manager.SelectedFields(c.ChannelID())),
		}
		if n, ok := b.entities.Number(c.ChannelID()); ok {
			bd.number = n
		}
		if sw, ok := b.entities.Switch(c.ChannelID()); ok {
			bd.sw = sw
		}
		next[c.ChannelID()] = bd
	}

	b.mu.Lock()
	prev := b.bindings
	b.bindings = next
	b.mu.Unlock()

	for id, bd := range prev {
		if _, kept := next[id]; !kept {
			for _, msg := range buildRemoveDiscovery(bd) {
				b.publish(msg.Topic, msg.Payload, true)
			}
		}
	}

	for _, bd := range next {
		for _, msg := range buildDiscovery(bd, b.prefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.subscribeChannelCommands(bd)
		b.publish(b.prefix+"/"+channelTopicName(bd.coord), buildState(bd), true)
	}
	b.logger.Info("channels synced to MQTT", "channels", len(next))
}

func (b *Bridge) publishChannelState(channelID string) {
	b.mu.Lock()
	bd, ok := b.bindings[channelID]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.publish(b.prefix+"/"+channelTopicName(bd.coord), buildState(bd), true)
}

func (b *Bridge) subscribeChannelCommands(bd *binding) {
	base := b.prefix + "/" + channelTopicName(bd.coord)
	channelID := bd.coord.ChannelID()

	b.client.Subscribe(base+"/poll_interval/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleIntervalCommand(channelID, msg.Payload())
	})
	if bd.sw != nil {
		b.client.Subscribe(base+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleSwitchCommand(channelID, msg.Payload())
		})
	}
}

func (b *Bridge) handleIntervalCommand(channelID string, payload []byte) {
	b.mu.Lock()
	bd, ok := b.bindings[channelID]
	b.mu.Unlock()
	if !ok {
		return
	}

	// An unparseable payload still applies: the control falls back to its
	// minimum rather than rejecting the write.
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		b.logger.Warn("bad poll interval payload", "channel", channelID, "payload", string(payload))
		seconds = 0
	}
	applied := bd.number.SetValue(seconds)
	b.logger.Info("poll interval set via MQTT", "channel", channelID, "seconds", applied)
	b.publishChannelState(channelID)
}

func (b *Bridge) handleSwitchCommand(channelID string, payload []byte) {
	b.mu.Lock()
	bd, ok := b.bindings[channelID]
	b.mu.Unlock()
	if !ok || bd.sw == nil {
		return
	}

	// Accept both a bare "ON"/"OFF" payload and the JSON {"state": "ON"}.
	cmd := strings.TrimSpace(string(payload))
	var body struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.State != "" {
		cmd = body.State
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	var err error
	switch strings.ToUpper(cmd) {
	case "ON":
		err = bd.sw.TurnOn(ctx)
	case "OFF":
		err = bd.sw.TurnOff(ctx)
	default:
		b.logger.Warn("unknown switch command", "channel", channelID, "payload", string(payload))
		return
	}
	if err != nil {
		b.logger.Warn("switch command failed", "channel", channelID, "err", err)
		return
	}
	b.publishChannelState(channelID)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
