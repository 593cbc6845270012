package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, TurnID: "t1", ConversationID: "c1", Model: "gpt-4o", Purpose: PurposeAgent, InputTokens: 1000, OutputTokens: 500},
		{Timestamp: now, TurnID: "t1", ConversationID: "c1", Model: "gpt-4o", Purpose: PurposeAgent, InputTokens: 1200, OutputTokens: 100},
		{Timestamp: now, TurnID: "t2", ConversationID: "c1", Model: "qwen2.5", Purpose: PurposeConfirm, InputTokens: 80, OutputTokens: 20},
		{Timestamp: now.Add(-48 * time.Hour), Model: "gpt-4o", Purpose: PurposeAnalysis, InputTokens: 9999, OutputTokens: 9999},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start, end := now.Add(-time.Hour), now.Add(time.Hour)

	sum, err := s.Summary(ctx, start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := Summary{Records: 3, InputTokens: 2280, OutputTokens: 620}
	if sum != want {
		t.Errorf("Summary = %+v, want %+v", sum, want)
	}

	byModel, err := s.SummaryByModel(ctx, start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if got := byModel["gpt-4o"]; got.Records != 2 || got.InputTokens != 2200 {
		t.Errorf("gpt-4o = %+v", got)
	}
	if got := byModel["qwen2.5"]; got.Records != 1 || got.OutputTokens != 20 {
		t.Errorf("qwen2.5 = %+v", got)
	}

	byPurpose, err := s.SummaryByPurpose(ctx, start, end)
	if err != nil {
		t.Fatalf("SummaryByPurpose: %v", err)
	}
	if len(byPurpose) != 2 {
		t.Errorf("purposes = %v, want agent and confirm", byPurpose)
	}
	if _, ok := byPurpose[PurposeAnalysis]; ok {
		t.Error("record outside the window was counted")
	}
}

func TestRecord_Defaults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Record{Model: "m", InputTokens: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var id, purpose string
	if err := s.db.QueryRow(`SELECT id, purpose FROM llm_usage`).Scan(&id, &purpose); err != nil {
		t.Fatalf("query: %v", err)
	}
	if id == "" {
		t.Error("id was not generated")
	}
	if purpose != PurposeAgent {
		t.Errorf("purpose = %q, want %q", purpose, PurposeAgent)
	}
}

func TestReport_Empty(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	rep, err := s.Report(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Total != (Summary{}) {
		t.Errorf("Total = %+v, want zero", rep.Total)
	}
	if len(rep.ByModel) != 0 || len(rep.ByPurpose) != 0 {
		t.Errorf("groups = %v / %v, want empty", rep.ByModel, rep.ByPurpose)
	}
}

func TestWithTags_Inherits(t *testing.T) {
	ctx := WithTags(context.Background(), Tags{TurnID: "t1", ConversationID: "c1"})
	ctx = WithPurpose(ctx, PurposeConfirm)

	got := TagsFrom(ctx)
	want := Tags{TurnID: "t1", ConversationID: "c1", Purpose: PurposeConfirm}
	if got != want {
		t.Errorf("TagsFrom = %+v, want %+v", got, want)
	}
	if TagsFrom(context.Background()) != (Tags{}) {
		t.Error("bare context should carry no tags")
	}
}

type stubClient struct {
	resp *llm.ChatResponse
	err  error
}

func (c *stubClient) Chat(context.Context, string, []llm.Message, []map[string]any, llm.Options) (*llm.ChatResponse, error) {
	return c.resp, c.err
}

func (c *stubClient) Ping(context.Context) error { return c.err }

type memRecorder struct {
	recs []Record
	err  error
}

func (m *memRecorder) Record(_ context.Context, rec Record) error {
	m.recs = append(m.recs, rec)
	return m.err
}

func TestMeter_RecordsCompletion(t *testing.T) {
	rec := &memRecorder{}
	client := &stubClient{resp: &llm.ChatResponse{
		Model:        "gpt-4o-2024",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: "ok"},
		InputTokens:  42,
		OutputTokens: 7,
		Duration:     1500 * time.Millisecond,
	}}
	m := NewMeter(client, rec, nil)

	ctx := WithTags(context.Background(), Tags{TurnID: "t1", ConversationID: "c1", Purpose: PurposeAgent})
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	if _, err := m.Chat(ctx, "gpt-4o", nil, nil, llm.Options{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(rec.recs) != 1 {
		t.Fatalf("recorded %d, want 1", len(rec.recs))
	}
	got := rec.recs[0]
	if got.Model != "gpt-4o-2024" || got.TurnID != "t1" || got.Purpose != PurposeAgent {
		t.Errorf("record = %+v", got)
	}
	if got.InputTokens != 42 || got.OutputTokens != 7 || got.Elapsed != 1500*time.Millisecond {
		t.Errorf("usage = %+v", got)
	}
}

func TestMeter_FailuresPassThrough(t *testing.T) {
	rec := &memRecorder{}
	boom := errors.New("boom")
	m := NewMeter(&stubClient{err: boom}, rec, nil)

	if _, err := m.Chat(context.Background(), "m", nil, nil, llm.Options{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(rec.recs) != 0 {
		t.Error("failed completion was recorded")
	}
	if err := m.Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping = %v", err)
	}

	// A ledger failure does not fail the completion.
	rec.err = errors.New("disk full")
	m = NewMeter(&stubClient{resp: &llm.ChatResponse{Model: "m"}}, rec, nil)
	if _, err := m.Chat(context.Background(), "m", nil, nil, llm.Options{}); err != nil {
		t.Errorf("Chat = %v, want nil", err)
	}
}
