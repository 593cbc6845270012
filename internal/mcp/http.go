package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/httpkit"
)

// sessionHeader carries the server-assigned session across requests.
const sessionHeader = "Mcp-Session-Id"

// maxResponseBytes bounds a single JSON-RPC response.
const maxResponseBytes = 10 << 20

var errNoResponse = errors.New("event stream ended without a response")

// HTTPTransport talks to an MCP server over streamable HTTP: every
// JSON-RPC message is a POST, and the reply is either a JSON body or a
// text/event-stream whose data events carry JSON-RPC messages.
type HTTPTransport struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates a transport for url. A non-empty token is sent
// as a bearer credential, which is what Home Assistant expects.
func NewHTTPTransport(url, token string, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		url:        url,
		token:      token,
		httpClient: httpkit.NewClient(httpkit.WithLogger(logger)),
		logger:     logger,
	}
}

func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	t.mu.RLock()
	if t.sessionID != "" {
		req.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

// Send posts a request and returns the response with the same id.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MCP server returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readEventStream(resp.Body, req.ID)
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}

// readEventStream scans SSE data events until one holds the response for
// id. Server notifications and requests interleaved on the stream are
// skipped.
func readEventStream(r io.Reader, id int64) (*Response, error) {
	sc := bufio.NewScanner(io.LimitReader(r, maxResponseBytes))
	sc.Buffer(make([]byte, 64*1024), maxResponseBytes)

	var data strings.Builder
	flush := func() (*Response, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			return nil, false
		}
		if resp.ID != id || (resp.Result == nil && resp.Error == nil) {
			return nil, false
		}
		return &resp, true
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, errNoResponse
}

// Notify posts a notification. 200 and 202 are both accepted.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	resp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("MCP server returned %d for notification: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}
	return nil
}

// Close forgets the session. Connections belong to the shared client.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
	return nil
}
