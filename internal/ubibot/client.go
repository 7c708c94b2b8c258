package ubibot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Ubibot cloud API endpoint.
const DefaultBaseURL = "https://webapi.ubibot.com"

// requestTimeout bounds every API call.
const requestTimeout = 20 * time.Second

// Client talks to the Ubibot cloud REST API. The API exposes a single
// list-style endpoint that is reused for both discovery and live data;
// there is no per-channel read endpoint.
type Client struct {
	baseURL    string
	accountKey string
	httpc      *http.Client
	logger     *slog.Logger
}

// NewClient creates an API client for one account key.
func NewClient(baseURL, accountKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountKey: accountKey,
		httpc:      &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "ubibot"),
	}
}

// ListChannels fetches all channels for the account. Each record's
// last_values blob is normalized to a decoded map before return.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	u := c.baseURL + "/channels/list?account_key=" + url.QueryEscape(c.accountKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Status: resp.StatusCode, Body: truncate(body, 200)}
	}

	var payload struct {
		Channels []Channel `json:"channels"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ProtocolError{Status: resp.StatusCode, Body: truncate(body, 200), Err: err}
	}

	for _, ch := range payload.Channels {
		ch.normalizeLastValues()
	}
	c.logger.Debug("channel list fetched", "channels", len(payload.Channels))
	return payload.Channels, nil
}

// GetChannel returns a single channel by id. The vendor API offers no
// by-id endpoint, so this fetches the full list and scans it.
func (c *Client) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	channels, err := c.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if ch.ID() == channelID {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
}

// SendCommand posts a stateful command to a channel's command endpoint.
// setState is 0 or 1; the port is fixed to port1 (the SP1 has one relay).
func (c *Client) SendCommand(ctx context.Context, channelID string, setState int) error {
	cmd, err := json.Marshal(map[string]any{
		"action":    "command",
		"set_state": setState,
		"s_port":    "port1",
	})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	q := url.Values{}
	q.Set("account_key", c.accountKey)
	q.Set("command_string", string(cmd))
	u := fmt.Sprintf("%s/channels/%s/commands?%s", c.baseURL, url.PathEscape(channelID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Status: resp.StatusCode, Body: truncate(body, 200)}
	}

	c.logger.Debug("command sent", "channel", channelID, "set_state", setState, "response", truncate(body, 200))
	return nil
}
