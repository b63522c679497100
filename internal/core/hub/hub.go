// Package hub talks to the lighting hub's local HTTP API: state reads,
// PUT/POST pass-through, cloud discovery of the hub address and the
// link-button pairing handshake that yields an API key.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
)

// DefaultTimeout bounds every hub request.
const DefaultTimeout = 4 * time.Second

// ErrLinkButton is the hub's error type for an unauthorised pairing attempt.
const ErrLinkButton = 101

var (
	// ErrDiscoveryEmpty is returned when the discovery service knows no hub.
	ErrDiscoveryEmpty = errors.New("hub: discovery returned no bridges")
	// ErrNotPaired is returned when a pairing reply carries no username.
	ErrNotPaired = errors.New("hub: pairing reply carried no username")
)

// APIError is an error entry from a hub reply.
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub: error %d at %s: %s", e.Type, e.Address, e.Description)
}

// Ack is one entry of the hub's reply to a PUT or POST. Exactly one of
// Success or Error is set.
type Ack struct {
	Success map[string]any `json:"success,omitempty"`
	Error   *APIError      `json:"error,omitempty"`
}

// Client is an authenticated hub API client. It is safe for concurrent use.
type Client struct {
	address string
	key     string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a client for the hub at address using the API key.
func NewClient(address, key string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		address: address,
		key:     key,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// URL returns the API URL for a resource path ("" for the full state).
func (c *Client) URL(path string) string {
	u := fmt.Sprintf("%s/api/%s", baseURL(c.address), c.key)
	if path = strings.Trim(path, "/"); path != "" {
		u += "/" + path
	}
	return u
}

func baseURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return strings.TrimRight(address, "/")
	}
	return "http://" + address
}

// Get fetches a resource and returns the decoded JSON value.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	var out any
	if err := c.do(ctx, http.MethodGet, c.URL(path), nil, &out); err != nil {
		return nil, err
	}
	if apiErr := firstError(out); apiErr != nil {
		return nil, apiErr
	}
	return out, nil
}

// GetObject fetches a resource that must be a JSON object.
func (c *Client) GetObject(ctx context.Context, path string) (document.Map, error) {
	v, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("hub: get %q: reply is %T, not an object", path, v)
	}
	return m, nil
}

// Put sends body to a resource and returns the hub's acknowledgements.
func (c *Client) Put(ctx context.Context, path string, body any) ([]Ack, error) {
	var acks []Ack
	if err := c.do(ctx, http.MethodPut, c.URL(path), body, &acks); err != nil {
		return nil, err
	}
	return acks, nil
}

// Post creates a resource and returns the hub's acknowledgements.
func (c *Client) Post(ctx context.Context, path string, body any) ([]Ack, error) {
	var acks []Ack
	if err := c.do(ctx, http.MethodPost, c.URL(path), body, &acks); err != nil {
		return nil, err
	}
	return acks, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	c.log.Debug("hub request", "method", method, "path", strings.TrimPrefix(url, c.URL("")))
	return doJSON(ctx, c.http, method, url, body, out)
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("hub: encode %s body: %w", method, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("hub: %s: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("hub: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hub: %s: read body: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub: %s: HTTP %d", method, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("hub: %s: decode reply: %w", method, err)
	}
	return nil
}

// firstError returns the error of a reply shaped [{"error": {...}}], which
// the hub sends instead of the resource when e.g. the key is unknown.
func firstError(v any) *APIError {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	entry, ok := list[0].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := entry["error"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var apiErr APIError
	if err := json.Unmarshal(data, &apiErr); err != nil {
		return nil
	}
	return &apiErr
}
