package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ubibot-go-home/internal/store"
)

// ErrNotReady wraps setup failures that the host should retry later, with a
// human-readable reason attached.
var ErrNotReady = errors.New("entry not ready")

// API is the vendor surface the manager and its entities need.
type API interface {
	ChannelFetcher
	SendCommand(ctx context.Context, channelID string, setState int) error
}

type persistReq struct {
	channelID string
	seconds   int
}

// Manager owns the coordinators for one configuration entry: it builds them
// at setup, tears them down at unload, rebuilds them when the user rewrites
// the channel selection, and runs the background worker that persists poll
// interval mutations without blocking the mutating entity.
type Manager struct {
	api    API
	store  store.Store
	events *EventBus
	logger *slog.Logger

	mu     sync.RWMutex
	coords map[string]*Coordinator
	cfg    *store.EntryConfig

	persistCh     chan persistReq
	workerCancel  context.CancelFunc
	workerDone    chan struct{}
	workerRunning bool
}

// NewManager creates a manager. Nothing runs until Initialize.
func NewManager(api API, st store.Store, events *EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		api:       api,
		store:     st,
		events:    events,
		logger:    logger.With("component", "manager"),
		coords:    make(map[string]*Coordinator),
		persistCh: make(chan persistReq, 16),
	}
}

// Initialize loads the entry configuration, builds one coordinator per
// configured channel, and performs the mandatory first refresh on each.
// Any first-refresh failure aborts setup with ErrNotReady so the host can
// retry the whole entry later.
func (m *Manager) Initialize(ctx context.Context) error {
	cfg, err := m.store.GetEntryConfig()
	if err != nil {
		return fmt.Errorf("%w: load entry config: %v", ErrNotReady, err)
	}

	coords, err := m.buildCoordinators(ctx, cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.coords = coords
	m.mu.Unlock()

	for _, c := range coords {
		c.Start()
	}
	m.startPersistWorker()

	m.logger.Info("entry initialized", "channels", len(coords))
	return nil
}

// Unload stops all coordinators and the persistence worker.
func (m *Manager) Unload() {
	m.mu.Lock()
	coords := m.coords
	m.coords = make(map[string]*Coordinator)
	m.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
	m.stopPersistWorker()
	m.logger.Info("entry unloaded")
}

// buildCoordinators creates and first-refreshes a coordinator per channel.
// Coordinators are not started; a failure stops nothing because nothing
// runs yet.
func (m *Manager) buildCoordinators(ctx context.Context, cfg *store.EntryConfig) (map[string]*Coordinator, error) {
	coords := make(map[string]*Coordinator, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		name := ch.Name
		if name == "" {
			name = ch.ChannelID
		}
		seconds, ok := cfg.PollMap[ch.ChannelID]
		if !ok {
			seconds = DefaultPollSeconds
		}

		c := New(m.api, ch.ChannelID, name, seconds, m.events, m.logger)
		if err := c.FirstRefresh(ctx); err != nil {
			m.logger.Warn("initial refresh failed", "channel", ch.ChannelID, "name", name, "err", err)
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		coords[ch.ChannelID] = c
	}
	return coords, nil
}

// Coordinator returns the coordinator for a channel id.
func (m *Manager) Coordinator(channelID string) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[channelID]
	return c, ok
}

// Coordinators returns all coordinators sorted by channel id.
func (m *Manager) Coordinators() []*Coordinator {
	m.mu.RLock()
	out := make([]*Coordinator, 0, len(m.coords))
	for _, c := range m.coords {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID() < out[j].ChannelID() })
	return out
}

// Config returns a copy of the entry configuration as of the last load.
func (m *Manager) Config() *store.EntryConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return &store.EntryConfig{}
	}
	return m.cfg.Clone()
}

// SelectedFields returns the user's chosen field keys for a channel, or nil
// when no selection was made (meaning: everything enabled).
func (m *Manager) SelectedFields(channelID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return nil
	}
	return append([]string(nil), m.cfg.SensorMap[channelID]...)
}

// API returns the vendor API surface, for entities that send commands.
func (m *Manager) API() API {
	return m.api
}

// Events returns the event bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// ApplyOptions re-runs the channel/field selection: the new coordinators
// are built and first-refreshed before anything is torn down, the config is
// persisted, and only then are the old coordinators replaced. Poll
// intervals of channels that survive the rewrite are preserved.
func (m *Manager) ApplyOptions(ctx context.Context, channels []store.ChannelRef, sensorMap map[string][]string) error {
	old := m.Config()

	next := &store.EntryConfig{
		AccountKey: old.AccountKey,
		Channels:   append([]store.ChannelRef(nil), channels...),
		PollMap:    make(map[string]int),
		SensorMap:  sensorMap,
	}
	for _, ch := range channels {
		if s, ok := old.PollMap[ch.ChannelID]; ok {
			next.PollMap[ch.ChannelID] = s
		}
	}

	// buildCoordinators starts nothing, so its failure needs no teardown.
	coords, err := m.buildCoordinators(ctx, next)
	if err != nil {
		return err
	}

	if err := m.store.SaveEntryConfig(next); err != nil {
		return fmt.Errorf("persist options: %w", err)
	}

	m.mu.Lock()
	prev := m.coords
	m.coords = coords
	m.cfg = next
	m.mu.Unlock()

	for _, c := range prev {
		c.Stop()
	}
	for _, c := range coords {
		c.Start()
	}

	m.events.Emit(Event{Type: EventEntryReloaded, Data: map[string]any{
		"channels": len(channels),
	}})
	m.logger.Info("options applied", "channels", len(channels))
	return nil
}

// EnqueuePersistPollSeconds queues a poll interval write to durable config.
// Best effort and fire-and-forget: the caller never waits, there is no
// retry, and a full queue drops the write with a warning. The live
// coordinator schedule is authoritative either way.
func (m *Manager) EnqueuePersistPollSeconds(channelID string, seconds int) {
	select {
	case m.persistCh <- persistReq{channelID: channelID, seconds: seconds}:
	default:
		m.logger.Warn("persist queue full, dropping poll interval write", "channel", channelID)
	}
}

func (m *Manager) startPersistWorker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workerRunning {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.workerCancel = cancel
	m.workerDone = make(chan struct{})
	m.workerRunning = true
	go m.persistLoop(ctx, m.workerDone)
}

func (m *Manager) stopPersistWorker() {
	m.mu.Lock()
	if !m.workerRunning {
		m.mu.Unlock()
		return
	}
	cancel, done := m.workerCancel, m.workerDone
	m.workerRunning = false
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Manager) persistLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.persistCh:
			err := m.store.UpdateEntryConfig(func(cfg *store.EntryConfig) error {
				if cfg.PollMap == nil {
					cfg.PollMap = make(map[string]int)
				}
				cfg.PollMap[req.channelID] = req.seconds
				return nil
			})
			if err != nil {
				m.logger.Error("persist poll interval", "channel", req.channelID, "err", err)
				continue
			}
			m.mu.Lock()
			if m.cfg != nil {
				if m.cfg.PollMap == nil {
					m.cfg.PollMap = make(map[string]int)
				}
				m.cfg.PollMap[req.channelID] = req.seconds
			}
			m.mu.Unlock()
			m.logger.Debug("poll interval persisted", "channel", req.channelID, "seconds", req.seconds)
		}
	}
}

// Describe summarizes a coordinator's channel for API responses.
func Describe(c *Coordinator) map[string]any {
	out := map[string]any{
		"channel_id":   c.ChannelID(),
		"name":         c.ChannelName(),
		"poll_seconds": c.IntervalSeconds(),
		"has_data":     false,
		"last_error":   "",
	}
	if snap, ok := c.Snapshot(); ok {
		out["has_data"] = true
		out["product_id"] = snap.ProductID()
	}
	if err := c.LastError(); err != nil {
		out["last_error"] = err.Error()
	}
	return out
}
