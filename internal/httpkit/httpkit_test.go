package httpkit

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != DefaultTimeout {
		t.Errorf("default timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	if c := NewClient(WithTimeout(5 * time.Second)); c.Timeout != 5*time.Second {
		t.Errorf("custom timeout = %v, want 5s", c.Timeout)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("TestBot/1.0"))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "TestBot/1.0" {
		t.Errorf("User-Agent = %q, want TestBot/1.0", body)
	}
}

// scriptedTransport fails with the given errors before succeeding.
type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
}

func TestRetryTransport_RetriesDialErrors(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialErr(syscall.EHOSTUNREACH), dialErr(syscall.ECONNREFUSED)}}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond, logger: discardLogger()}

	req, _ := http.NewRequest(http.MethodGet, "http://ha.local/api/states", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()
	if base.calls != 3 {
		t.Errorf("calls = %d, want 3", base.calls)
	}
}

func TestRetryTransport_NoRetryOnOtherErrors(t *testing.T) {
	base := &scriptedTransport{errs: []error{fmt.Errorf("tls: bad certificate")}}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond, logger: discardLogger()}

	req, _ := http.NewRequest(http.MethodGet, "http://ha.local/api/states", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1", base.calls)
	}
}

func TestIsDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"host unreachable", dialErr(syscall.EHOSTUNREACH), true},
		{"network unreachable", dialErr(syscall.ENETUNREACH), true},
		{"refused", dialErr(syscall.ECONNREFUSED), true},
		{"reset", dialErr(syscall.ECONNRESET), false},
		{"plain", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDialError(tt.err); got != tt.want {
				t.Errorf("IsDialError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSuccess(t *testing.T) {
	for status, want := range map[int]bool{200: true, 201: true, 204: true, 199: false, 301: false, 401: false, 500: false} {
		if got := IsSuccess(status); got != want {
			t.Errorf("IsSuccess(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("entity not found and a lot more"))
	if got := ReadErrorBody(body, 16); got != "entity not found" {
		t.Errorf("ReadErrorBody = %q", got)
	}
	if got := ReadErrorBody(nil, 16); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
