package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingAdapter struct{ recorded int }

func (f *failingAdapter) Record(_ context.Context, turns []Turn) error {
	f.recorded += len(turns)
	return errors.New("backend down")
}

func (f *failingAdapter) Retrieve(context.Context) (string, error) {
	return "stale", errors.New("backend down")
}

func TestRecorder_SwallowsFailures(t *testing.T) {
	backend := &failingAdapter{}
	r := NewRecorder(backend, discardLogger())

	if !r.Enabled() {
		t.Error("Enabled() = false for a real backend")
	}
	if ok := r.Record(context.Background(), []Turn{{Role: "user", Content: "hi"}}); ok {
		t.Error("Record should report failure")
	}
	if backend.recorded != 1 {
		t.Errorf("backend saw %d turns, want 1", backend.recorded)
	}
	if got := r.Retrieve(context.Background()); got != "" {
		t.Errorf("Retrieve on failure = %q, want empty", got)
	}
}

func TestRecorder_Disabled(t *testing.T) {
	r := NewRecorder(nil, discardLogger())
	if r.Enabled() {
		t.Error("nil adapter should be disabled")
	}
	if !r.Record(context.Background(), []Turn{{Role: "user", Content: "hi"}}) {
		t.Error("disabled Record should succeed")
	}
	if got := r.Retrieve(context.Background()); got != "" {
		t.Errorf("disabled Retrieve = %q", got)
	}
}

func TestLedger_PendingAndCommit(t *testing.T) {
	l := NewLedger(0)
	defer l.Close()

	first := []Turn{{"user", "turn on the lamp"}}
	if got := l.Pending("c1", first); !slices.Equal(got, first) {
		t.Fatalf("first call = %v, want %v", got, first)
	}
	if got := l.Pending("c1", first); !slices.Equal(got, first) {
		t.Fatalf("uncommitted turns should stay pending, got %v", got)
	}
	l.Commit("c1", first)

	second := []Turn{
		{"user", "turn on the lamp"},
		{"assistant", "done"},
		{"user", "thanks"},
		{"user", "thanks"},
	}
	want := []Turn{{"assistant", "done"}, {"user", "thanks"}}
	got := l.Pending("c1", second)
	if !slices.Equal(got, want) {
		t.Errorf("second call = %v, want %v", got, want)
	}
	l.Commit("c1", got)
	if got := l.Pending("c1", second); len(got) != 0 {
		t.Errorf("after commit = %v, want none", got)
	}

	if got := l.Pending("c2", first); !slices.Equal(got, first) {
		t.Errorf("other conversation = %v, want %v", got, first)
	}

	l.Forget("c1")
	if got := l.Pending("c1", first); !slices.Equal(got, first) {
		t.Errorf("after Forget = %v, want %v", got, first)
	}
}

func TestLedger_Expires(t *testing.T) {
	l := NewLedger(50 * time.Millisecond)
	defer l.Close()

	turns := []Turn{{"user", "hello"}}
	l.Commit("c1", turns)
	if got := l.Pending("c1", turns); len(got) != 0 {
		t.Fatalf("committed turn pending: %v", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := l.Pending("c1", turns); !slices.Equal(got, turns) {
		t.Errorf("after expiry = %v, want %v", got, turns)
	}
}
