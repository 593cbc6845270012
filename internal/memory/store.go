// Package memory provides the optional conversational memory side channel.
//
// An [Adapter] records conversation turns and returns a summary string
// that is appended to the assistant's system prompt. Memory is strictly
// best-effort: [Recorder] logs every backend failure and never returns
// one to the caller.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"
)

// Turn is one message handed to the memory backend.
type Turn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Adapter is a memory backend.
type Adapter interface {
	// Record stores turns. Callers pass only turns not recorded before.
	Record(ctx context.Context, turns []Turn) error

	// Retrieve returns a summary of what is remembered, or "".
	Retrieve(ctx context.Context) (string, error)
}

// Disabled is the Adapter used when memory is turned off.
type Disabled struct{}

// Record does nothing.
func (Disabled) Record(context.Context, []Turn) error { return nil }

// Retrieve returns "".
func (Disabled) Retrieve(context.Context) (string, error) { return "", nil }

// Recorder wraps an Adapter so failures are logged instead of returned.
type Recorder struct {
	adapter Adapter
	logger  *slog.Logger
}

// NewRecorder wraps adapter. A nil adapter behaves as [Disabled].
func NewRecorder(adapter Adapter, logger *slog.Logger) *Recorder {
	if adapter == nil {
		adapter = Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{adapter: adapter, logger: logger}
}

// Enabled reports whether a real backend is configured.
func (r *Recorder) Enabled() bool {
	_, off := r.adapter.(Disabled)
	return !off
}

// Record forwards turns and reports whether the backend accepted them.
func (r *Recorder) Record(ctx context.Context, turns []Turn) bool {
	if len(turns) == 0 {
		return true
	}
	if err := r.adapter.Record(ctx, turns); err != nil {
		r.logger.Warn("memory record failed", "turns", len(turns), "error", err)
		return false
	}
	r.logger.Debug("memory recorded", "turns", len(turns))
	return true
}

// Retrieve returns the summary, or "" on any failure.
func (r *Recorder) Retrieve(ctx context.Context) string {
	summary, err := r.adapter.Retrieve(ctx)
	if err != nil {
		r.logger.Warn("memory retrieve failed", "error", err)
		return ""
	}
	return summary
}

// Ledger remembers which turns of each conversation were already handed
// to the memory backend. A turn is identified by role and content, so an
// identical message repeated later in the same conversation counts as
// already forwarded. Conversations idle longer than the ledger's ttl are
// forgotten.
type Ledger struct {
	mu    sync.Mutex
	cache *ttlcache.Cache
}

type forwardedSet struct {
	mu   sync.Mutex
	seen map[Turn]struct{}
}

// NewLedger creates a ledger. Zero ttl keeps conversations forever.
func NewLedger(ttl time.Duration) *Ledger {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(ttl)
	return &Ledger{cache: cache}
}

func (l *Ledger) set(conversationID string) *forwardedSet {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, err := l.cache.Get(conversationID); err == nil {
		return v.(*forwardedSet)
	}
	fs := &forwardedSet{seen: make(map[Turn]struct{})}
	_ = l.cache.Set(conversationID, fs)
	return fs
}

// Pending returns the turns of conversationID not yet forwarded, in
// order and without repeats. Nothing is marked; call Commit once the
// backend has accepted them.
func (l *Ledger) Pending(conversationID string, turns []Turn) []Turn {
	fs := l.set(conversationID)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	batch := make(map[Turn]struct{}, len(turns))
	var fresh []Turn
	for _, t := range turns {
		if _, ok := fs.seen[t]; ok {
			continue
		}
		if _, ok := batch[t]; ok {
			continue
		}
		batch[t] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

// Commit marks turns as forwarded for conversationID.
func (l *Ledger) Commit(conversationID string, turns []Turn) {
	if len(turns) == 0 {
		return
	}
	fs := l.set(conversationID)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, t := range turns {
		fs.seen[t] = struct{}{}
	}
}

// Forget drops everything remembered for conversationID.
func (l *Ledger) Forget(conversationID string) {
	_ = l.cache.Remove(conversationID)
}

// Close stops the ledger's expiry goroutine.
func (l *Ledger) Close() error {
	return l.cache.Close()
}
