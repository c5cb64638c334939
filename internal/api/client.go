package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/session"
)

// Client talks to a running control API
type Client struct {
	baseURL string
	http    *http.Client
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Code)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Code, e.Message)
}

// NewClient creates a client for baseURL, e.g. http://127.0.0.1:8090
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the API root the client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Status(ctx context.Context) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Balance(ctx context.Context) (*BalanceResponse, error) {
	var bal BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance", nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// Reconnect asks the session for a manual reconnect
func (c *Client) Reconnect(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/reconnect", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Send forwards a raw JSON frame
func (c *Client) Send(ctx context.Context, frame json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/v1/send", frame, nil)
}

func (c *Client) SubmitBet(ctx context.Context, bet BetRequest) (string, error) {
	var resp BetResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/bets", bet, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

func (c *Client) UnlockBet(ctx context.Context) (*BalanceResponse, error) {
	var bal BalanceResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/bets/unlock", nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

func (c *Client) BetStats(ctx context.Context, windowSize int) (*interfaces.BetStats, error) {
	var stats interfaces.BetStats
	path := "/api/v1/bets/stats?window_size=" + strconv.Itoa(windowSize)
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) Alerts(ctx context.Context) ([]interfaces.Alert, error) {
	var alerts []interfaces.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts", nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) AcknowledgeAlert(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/alerts/"+url.PathEscape(id)+"/ack", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	switch v := in.(type) {
	case nil:
	case json.RawMessage:
		body = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach api at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
