package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ubibot-go-home/internal/ubibot"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFetcher is a scriptable ChannelFetcher.
type fakeFetcher struct {
	mu       sync.Mutex
	channel  ubibot.Channel
	err      error
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	block    chan struct{} // when non-nil, fetches wait here (or on ctx)
}

func (f *fakeFetcher) set(ch ubibot.Channel, err error) {
	f.mu.Lock()
	f.channel = ch
	f.err = err
	f.mu.Unlock()
}

func (f *fakeFetcher) GetChannel(ctx context.Context, channelID string) (ubibot.Channel, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}

	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.channel, nil
}

func newTestCoordinator(f *fakeFetcher) *Coordinator {
	events := NewEventBus(newTestLogger())
	return New(f, "100", "Office", DefaultPollSeconds, events, newTestLogger())
}

func TestClampPollSeconds(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{30, 60},
		{59, 60},
		{60, 60},
		{600, 600},
		{3600, 3600},
		{3601, 3600},
		{999999, 3600},
		{-5, 60},
		{0, 60},
	}
	for _, tt := range tests {
		if got := ClampPollSeconds(tt.in); got != tt.want {
			t.Errorf("ClampPollSeconds(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotBeforeFirstRefresh(t *testing.T) {
	c := newTestCoordinator(&fakeFetcher{})
	if _, ok := c.Snapshot(); ok {
		t.Error("snapshot present before any refresh")
	}
}

func TestFirstRefresh(t *testing.T) {
	f := &fakeFetcher{}
	f.set(ubibot.Channel{"channel_id": "100", "name": "Office"}, nil)

	c := newTestCoordinator(f)
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("no snapshot after first refresh")
	}
	if snap.Name() != "Office" {
		t.Errorf("name = %q, want Office", snap.Name())
	}
}

func TestFirstRefreshFailurePropagates(t *testing.T) {
	f := &fakeFetcher{}
	f.set(nil, &ubibot.TransportError{Err: errors.New("dial tcp: refused")})

	c := newTestCoordinator(f)
	err := c.FirstRefresh(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var terr *ubibot.TransportError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want wrapped *TransportError", err)
	}
}

func TestFailedRefreshKeepsStaleSnapshot(t *testing.T) {
	f := &fakeFetcher{}
	good := ubibot.Channel{"channel_id": "100", "last_values": map[string]any{"field1": "22.5"}}
	f.set(good, nil)

	c := newTestCoordinator(f)
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.set(nil, &ubibot.ProtocolError{Status: 500, Body: "boom"})
	if err := c.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("stale snapshot gone after failed refresh")
	}
	if snap.LastValues()["field1"] != "22.5" {
		t.Errorf("stale snapshot mutated: %v", snap.LastValues())
	}
	if c.LastError() == nil {
		t.Error("failure not recorded")
	}

	// A later success clears the recorded error and replaces the cache.
	f.set(ubibot.Channel{"channel_id": "100", "last_values": map[string]any{"field1": "23.0"}}, nil)
	if err := c.refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.LastError() != nil {
		t.Errorf("last error not cleared: %v", c.LastError())
	}
	snap, _ = c.Snapshot()
	if snap.LastValues()["field1"] != "23.0" {
		t.Errorf("snapshot not replaced: %v", snap.LastValues())
	}
}

func TestSetIntervalClampsAndAppliesLive(t *testing.T) {
	c := newTestCoordinator(&fakeFetcher{})

	if got := c.SetInterval(30); got != 60 {
		t.Errorf("SetInterval(30) = %d, want 60", got)
	}
	if c.IntervalSeconds() != 60 {
		t.Errorf("live interval = %d, want 60", c.IntervalSeconds())
	}

	if got := c.SetInterval(999999); got != 3600 {
		t.Errorf("SetInterval(999999) = %d, want 3600", got)
	}
	if c.IntervalSeconds() != 3600 {
		t.Errorf("live interval = %d, want 3600", c.IntervalSeconds())
	}
}

func TestSetIntervalEmitsEvent(t *testing.T) {
	f := &fakeFetcher{}
	events := NewEventBus(newTestLogger())
	c := New(f, "100", "Office", 600, events, newTestLogger())

	var got Event
	events.On(EventIntervalChanged, func(e Event) { got = e })

	c.SetInterval(120)
	data, ok := got.Data.(map[string]any)
	if !ok {
		t.Fatalf("no interval_changed event, got %+v", got)
	}
	if data["seconds"] != 120 {
		t.Errorf("seconds = %v, want 120", data["seconds"])
	}

	// Setting the same value again must not emit.
	got = Event{}
	c.SetInterval(120)
	if got.Type != "" {
		t.Error("event emitted for unchanged interval")
	}
}

// Two refresh requests issued back-to-back must never produce two
// simultaneous in-flight fetches.
func TestNoConcurrentRefreshes(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	f.set(ubibot.Channel{"channel_id": "100"}, nil)

	c := newTestCoordinator(f)
	c.Start()
	defer c.Stop()

	c.RequestRefresh()
	c.RequestRefresh()
	c.RequestRefresh()

	time.Sleep(50 * time.Millisecond)
	close(f.block)
	time.Sleep(50 * time.Millisecond)

	if max := f.maxSeen.Load(); max > 1 {
		t.Errorf("max concurrent fetches = %d, want 1", max)
	}
	// Coalescing: three requests while one was pending collapse to at
	// most two fetches (the running one plus one queued).
	if calls := f.calls.Load(); calls > 2 {
		t.Errorf("calls = %d, want <= 2", calls)
	}
}

func TestStopAbandonsInFlightRefresh(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	f.set(ubibot.Channel{"channel_id": "100"}, nil)

	c := newTestCoordinator(f)
	c.Start()
	c.RequestRefresh()
	time.Sleep(20 * time.Millisecond)

	c.Stop() // cancels the fetch context, loop exits

	if _, ok := c.Snapshot(); ok {
		t.Error("cache written after teardown")
	}
}

func TestSnapshotUpdatedEvent(t *testing.T) {
	f := &fakeFetcher{}
	f.set(ubibot.Channel{"channel_id": "100"}, nil)
	events := NewEventBus(newTestLogger())
	c := New(f, "100", "Office", 600, events, newTestLogger())

	var mu sync.Mutex
	var types []string
	events.OnAll(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.set(nil, errors.New("down"))
	c.refresh(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != EventSnapshotUpdated || types[1] != EventRefreshFailed {
		t.Errorf("events = %v", types)
	}
}
