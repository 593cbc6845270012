// Package history records executed commands as InfluxDB points, one per
// target entity, so device control can be charted next to device
// telemetry.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
)

// Measurement is the InfluxDB measurement command points are written to.
const Measurement = "hassist_command"

const pingTimeout = 5 * time.Second

// ErrDisabled is returned by Connect when history is turned off.
var ErrDisabled = errors.New("history: disabled in configuration")

// pointWriter is the non-blocking subset of api.WriteAPI used here.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes command points. Writes are batched and asynchronous;
// failures surface in the log, never to the caller.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	logger *slog.Logger
	now    func() time.Time
}

// Connect creates the client, checks the server answers a ping, and
// starts the batching writer.
func Connect(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(max(cfg.BatchSize, 1))).
		SetFlushInterval(uint(max(cfg.FlushInterval.Milliseconds(), 1)))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("history: ping %s: %w", cfg.URL, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("history: %s is not healthy", cfg.URL)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("history write failed", "error", err)
		}
	}()

	logger.Info("command history enabled", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return &Recorder{client: client, writer: writeAPI, logger: logger, now: time.Now}, nil
}

// CommandExecuted writes one point per target of m.
func (r *Recorder) CommandExecuted(_ context.Context, turnID string, m *command.Match, outcome command.Outcome) {
	pts := Points(turnID, m, outcome, r.now())
	for _, p := range pts {
		r.writer.WritePoint(p)
	}
	r.logger.Debug("command history queued", "turn", turnID, "points", len(pts))
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}

// Points converts one executed command into points. Per-target results
// are used when the outcome has them; otherwise every target of the
// match gets the command-wide success flag.
func Points(turnID string, m *command.Match, outcome command.Outcome, at time.Time) []*write.Point {
	if m == nil {
		return nil
	}

	point := func(t command.Target, ok bool, text string) *write.Point {
		return write.NewPoint(Measurement,
			map[string]string{
				"domain":     m.Domain,
				"service":    m.Service,
				"entity_id":  t.EntityID,
				"matched_by": string(m.MatchedBy),
			},
			map[string]any{
				"ok":     ok,
				"turn":   turnID,
				"result": text,
			},
			at,
		)
	}

	if len(outcome.Results) > 0 {
		pts := make([]*write.Point, 0, len(outcome.Results))
		for _, res := range outcome.Results {
			pts = append(pts, point(res.Target, res.OK, res.Text))
		}
		return pts
	}

	pts := make([]*write.Point, 0, len(m.Targets))
	for _, t := range m.Targets {
		pts = append(pts, point(t, outcome.Succeeded, outcome.Text))
	}
	return pts
}
