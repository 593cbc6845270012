// Package homeassistant provides clients for the Home Assistant REST and
// WebSocket APIs.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/httpkit"
)

// ErrorKind distinguishes the ways a Home Assistant request can fail.
type ErrorKind int

const (
	// KindStatus is any non-success HTTP status other than 401.
	KindStatus ErrorKind = iota
	// KindUnauthorized means the access token was rejected.
	KindUnauthorized
	// KindConnection means no HTTP response was received at all.
	KindConnection
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindConnection:
		return "connection"
	default:
		return "status"
	}
}

// APIError is returned by every Client method that talks to Home Assistant.
type APIError struct {
	Kind   ErrorKind
	Path   string
	Status int    // zero for KindConnection
	Body   string // truncated response body
	Err    error  // underlying transport error for KindConnection
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindConnection:
		return fmt.Sprintf("request %s: %v", e.Path, e.Err)
	case KindUnauthorized:
		return fmt.Sprintf("request %s: unauthorized (401): check the long-lived access token", e.Path)
	default:
		return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Home Assistant client. Dial failures are
// retried by the transport; HTTP-level failures are not.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// State is one record of GET /api/states.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`

	// DecodeError is set by GetStates on a record it could not decode.
	// Only EntityID may be filled in then.
	DecodeError string `json:"-"`
}

// Domain returns the entity id segment before the first dot, or "" when
// the id has no dot.
func (s State) Domain() string {
	domain, _, ok := strings.Cut(s.EntityID, ".")
	if !ok {
		return ""
	}
	return domain
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Config is the subset of /api/config we log on connect.
type Config struct {
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
	Version      string `json:"version"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetConfig retrieves the Home Assistant configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.get(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetStates retrieves all entity states. A record that fails to decode
// is returned with DecodeError set, so callers can count it as skipped;
// one bad record never fails the whole call.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var raw []json.RawMessage
	if err := c.get(ctx, "/api/states", &raw); err != nil {
		return nil, err
	}

	states := make([]State, 0, len(raw))
	for i, r := range raw {
		var s State
		if err := json.Unmarshal(r, &s); err != nil {
			var id struct {
				EntityID string `json:"entity_id"`
			}
			_ = json.Unmarshal(r, &id)
			c.logger.Warn("undecodable state record", "index", i, "entity_id", id.EntityID, "error", err)
			states = append(states, State{EntityID: id.EntityID, DecodeError: err.Error()})
			continue
		}
		states = append(states, s)
	}
	return states, nil
}

// GetState retrieves a single entity state.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/states/"+entityID, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CallService calls a Home Assistant service. Any 2xx status is success.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.post(ctx, path, data)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and converts transport and status failures to *APIError.
// On success the caller owns resp.Body.
func (c *Client) do(req *http.Request, path string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindConnection, Path: path, Err: err}
	}
	if httpkit.IsSuccess(resp.StatusCode) {
		return resp, nil
	}

	body := httpkit.ReadErrorBody(resp.Body, 512)
	kind := KindStatus
	if resp.StatusCode == http.StatusUnauthorized {
		kind = KindUnauthorized
	}
	return nil, &APIError{Kind: kind, Path: path, Status: resp.StatusCode, Body: body}
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req, path)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, data any) error {
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req, path)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}
