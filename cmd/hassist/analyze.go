package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/prompts"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/usage"
)

const (
	analysisTemperature = 0.3
	summaryTemperature  = 0.1
	summaryMaxWords     = 200
	analysisTimeFormat  = "20060102_150405"
)

// analysis is the result of one analyze run.
type analysis struct {
	At          time.Time
	Raw         string
	Summary     string
	SensorCount int
	DeviceCount int
}

// analysisRecord is the JSON file written next to the summary.
type analysisRecord struct {
	Timestamp   string `json:"timestamp"`
	RawAnalysis string `json:"raw_analysis"`
	SensorCount int    `json:"sensor_count"`
	DeviceCount int    `json:"device_count"`
}

// runAnalyze asks the LLM for automation ideas over the current entities
// and writes the report and its summary to the output directory.
func runAnalyze(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.store.Refresh(ctx)
	if err != nil {
		return err
	}
	if snap.Empty() {
		return fmt.Errorf("no entities to analyze")
	}

	logger.Info("analyzing entities", "sensors", snap.Sensors.Len(), "devices", snap.NonSensors.Len(), "model", cfg.LLM.Model)
	res, err := analyzeEntities(usage.WithPurpose(ctx, usage.PurposeAnalysis), a.chat, cfg.LLM.Model, snap, time.Now())
	if err != nil {
		return err
	}

	summaryPath, jsonPath, err := saveAnalysis(cfg.OutputDir, res)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, res.Summary)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "summary:  %s\n", summaryPath)
	fmt.Fprintf(stdout, "analysis: %s\n", jsonPath)
	return nil
}

// analyzeEntities runs the analysis call followed by the condensing
// call.
func analyzeEntities(ctx context.Context, client llm.Client, model string, snap *entity.Snapshot, now time.Time) (*analysis, error) {
	raw, err := llm.Complete(ctx, client, model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.AnalysisSystem},
		{Role: llm.RoleUser, Content: prompts.AnalysisPrompt(entity.Describe(snap))},
	}, llm.Options{Temperature: llm.Temperature(analysisTemperature)})
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if raw == "" {
		return nil, fmt.Errorf("analysis: empty reply from %s", model)
	}

	summary, err := llm.Complete(ctx, client, model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.SummarySystem},
		{Role: llm.RoleUser, Content: prompts.SummaryPrompt(raw, summaryMaxWords)},
	}, llm.Options{Temperature: llm.Temperature(summaryTemperature)})
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	return &analysis{
		At:          now,
		Raw:         raw,
		Summary:     summary,
		SensorCount: snap.Sensors.Len(),
		DeviceCount: snap.NonSensors.Len(),
	}, nil
}

// saveAnalysis writes entity_summary_<ts>.txt and
// entity_analysis_<ts>.json under dir and returns both paths.
func saveAnalysis(dir string, res *analysis) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}

	ts := res.At.Format(analysisTimeFormat)
	summaryPath := filepath.Join(dir, "entity_summary_"+ts+".txt")
	jsonPath := filepath.Join(dir, "entity_analysis_"+ts+".json")

	if err := os.WriteFile(summaryPath, []byte(res.Summary), 0o644); err != nil {
		return "", "", fmt.Errorf("write summary: %w", err)
	}

	data, err := json.MarshalIndent(analysisRecord{
		Timestamp:   res.At.Format(time.RFC3339),
		RawAnalysis: res.Raw,
		SensorCount: res.SensorCount,
		DeviceCount: res.DeviceCount,
	}, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode analysis: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write analysis: %w", err)
	}
	return summaryPath, jsonPath, nil
}
