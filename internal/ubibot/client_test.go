package ubibot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestListChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/list" {
			t.Errorf("path = %q, want /channels/list", r.URL.Path)
		}
		if got := r.URL.Query().Get("account_key"); got != "test-key" {
			t.Errorf("account_key = %q, want %q", got, "test-key")
		}
		w.Write([]byte(`{"channels":[
			{"channel_id":"100","name":"Office","last_values":"{\"field1\":\"22.5\"}"},
			{"channel_id":"200","name":"Plug","product_id":"ubibot-sp1a","last_values":{"port1_state":"on"}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testLogger())
	channels, err := c.ListChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(channels))
	}

	// String blob normalized to a decoded map during the fetch.
	lv := channels[0].LastValues()
	if got := lv["field1"]; got != "22.5" {
		t.Errorf("field1 = %v, want %q", got, "22.5")
	}
	if _, ok := channels[0]["last_values"].(map[string]any); !ok {
		t.Errorf("last_values not normalized in place: %T", channels[0]["last_values"])
	}

	if got := channels[1].ProductID(); got != "ubibot-sp1a" {
		t.Errorf("product_id = %q, want %q", got, "ubibot-sp1a")
	}
}

func TestListChannelsMalformedLastValuesDoesNotAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"channels":[{"channel_id":"100","last_values":"not json"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testLogger())
	channels, err := c.ListChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(channels[0].LastValues()) != 0 {
		t.Errorf("last_values = %v, want empty", channels[0].LastValues())
	}
}

func TestListChannelsProtocolError(t *testing.T) {
	longBody := strings.Repeat("x", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(longBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testLogger())
	_, err := c.ListChannels(context.Background())

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T (%v), want *ProtocolError", err, err)
	}
	if perr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", perr.Status)
	}
	if len(perr.Body) != 200 {
		t.Errorf("body length = %d, want truncation to 200", len(perr.Body))
	}
}

func TestListChannelsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	c := NewClient(srv.URL, "k", testLogger())
	_, err := c.ListChannels(context.Background())

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %T (%v), want *TransportError", err, err)
	}
}

func TestGetChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"channels":[{"channel_id":"100","name":"A"},{"id":200,"name":"B"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testLogger())

	ch, err := c.GetChannel(context.Background(), "200")
	if err != nil {
		t.Fatal(err)
	}
	if ch.Name() != "B" {
		t.Errorf("name = %q, want %q", ch.Name(), "B")
	}

	_, err = c.GetChannel(context.Background(), "999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSendCommand(t *testing.T) {
	var gotCmd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/channels/200/commands" {
			t.Errorf("path = %q, want /channels/200/commands", r.URL.Path)
		}
		gotCmd = r.URL.Query().Get("command_string")
		w.Write([]byte(`{"result":"success"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testLogger())
	if err := c.SendCommand(context.Background(), "200", 1); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{`"action":"command"`, `"set_state":1`, `"s_port":"port1"`} {
		if !strings.Contains(gotCmd, want) {
			t.Errorf("command_string %q missing %q", gotCmd, want)
		}
	}
}

func TestSendCommandNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testLogger())
	err := c.SendCommand(context.Background(), "200", 0)

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T (%v), want *ProtocolError", err, err)
	}
	if perr.Status != http.StatusBadGateway || perr.Body != "upstream down" {
		t.Errorf("got %d %q", perr.Status, perr.Body)
	}
}
