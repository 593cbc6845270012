package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/api"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/buildinfo"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/connwatch"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/history"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/mqtt"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// runServe starts the chat API and the background integrations, then
// blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting hassist", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "config", cfgPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var observers pipeline.Observers

	publisher := startMQTT(ctx, cfg, logger)
	if publisher != nil {
		observers = append(observers, publisher)
	}

	hist, err := history.Connect(ctx, cfg.History, logger)
	switch {
	case errors.Is(err, history.ErrDisabled):
	case err != nil:
		logger.Warn("command history disabled", "error", err)
	default:
		observers = append(observers, hist)
		defer hist.Close()
	}

	a, err := newApp(ctx, cfg, observers, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var ws *homeassistant.WSClient
	if cfg.HomeAssistant.WatchStates {
		ws = watchStates(ctx, cfg, a, logger)
		if ws != nil {
			defer ws.Close()
		}
	}

	monitor := connwatch.NewMonitor(connwatch.Schedule{}, logger.With("component", "connwatch"))
	defer monitor.Stop()

	services := []connwatch.Service{
		{
			Name:  "homeassistant",
			Probe: a.ha.Ping,
			OnChange: func(up bool, _ error) {
				if !up {
					return
				}
				a.store.Invalidate()
				if ws != nil {
					go func() {
						if err := ws.Reconnect(ctx); err != nil {
							logger.Warn("websocket reconnect failed", "error", err)
						}
					}()
				}
			},
		},
		{Name: "llm", Probe: a.llm.Ping},
	}
	if publisher != nil {
		services = append(services, connwatch.Service{Name: "mqtt", Probe: publisher.AwaitConnection})
	}
	for _, svc := range services {
		if err := monitor.Watch(ctx, svc); err != nil {
			return fmt.Errorf("watch %s: %w", svc.Name, err)
		}
	}

	opts := api.Options{
		Snapshots:       a.store,
		Health:          monitor,
		Forgetter:       a.ledger,
		ConversationTTL: cfg.Pipeline.ConversationTTL,
	}
	if a.usage != nil {
		opts.Usage = a.usage
	}
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.pipeline, opts, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Debug("mqtt stop", "error", err)
		}
	}
	return nil
}

// startMQTT starts the command event publisher in the background. The
// broker may come up later; autopaho keeps retrying.
func startMQTT(ctx context.Context, cfg *config.Config, logger *slog.Logger) *mqtt.Publisher {
	if !cfg.MQTT.Enabled {
		return nil
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		logger.Warn("mqtt disabled", "error", err)
		return nil
	}

	p := mqtt.New(cfg.MQTT, instanceID, logger.With("component", "mqtt"))
	go func() {
		if err := p.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("mqtt broker not reachable yet", "broker", cfg.MQTT.Broker, "error", err)
		}
	}()
	return p
}

// watchStates subscribes to state_changed and drops the cached snapshot
// on every change so the next turn sees fresh states.
func watchStates(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) *homeassistant.WSClient {
	ws := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err := ws.Connect(ctx); err != nil {
		logger.Warn("websocket unavailable, relying on snapshot TTL", "error", err)
		return nil
	}
	if err := ws.Subscribe(ctx, "state_changed"); err != nil {
		logger.Warn("state_changed subscription failed", "error", err)
		_ = ws.Close()
		return nil
	}

	watcher := homeassistant.NewStateWatcher(ws.Events(), func(entityID, _ string) {
		logger.Log(ctx, config.LevelTrace, "state changed", "entity_id", entityID)
		a.store.Invalidate()
	}, logger)
	go watcher.Run(ctx)
	return ws
}

