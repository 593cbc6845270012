package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/agent"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/mcp"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/memory"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/pipeline"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/tools"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/usage"
)

// app holds the components shared by every command that talks to Home
// Assistant.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	ha       *homeassistant.Client
	store    *entity.Store
	llm      *llm.MultiClient
	chat     llm.Client // llm, metered when usage tracking is on
	usage    *usage.Store
	tools    *tools.Registry
	ledger   *memory.Ledger
	pipeline *pipeline.Pipeline

	closers []func() error
}

// newApp wires the core components. Optional integrations (MCP tools,
// memory) degrade to a warning when they cannot be set up.
func newApp(ctx context.Context, cfg *config.Config, observer pipeline.CommandObserver, logger *slog.Logger) (*app, error) {
	if !cfg.HomeAssistant.Configured() {
		return nil, errors.New("homeassistant.url and homeassistant.token are required")
	}

	a := &app{cfg: cfg, logger: logger}

	a.ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	a.store = entity.NewStore(a.ha, cfg.Pipeline.SnapshotTTL, logger)
	a.closers = append(a.closers, a.store.Close)

	a.llm = llm.New(cfg.LLM, logger)
	a.chat = a.llm
	if cfg.Usage.Enabled {
		store, err := usage.NewStore(cfg.Usage.Path)
		if err != nil {
			logger.Warn("usage tracking disabled", "error", err)
		} else {
			a.usage = store
			a.closers = append(a.closers, store.Close)
			a.chat = usage.NewMeter(a.llm, store, logger)
		}
	}
	a.tools = tools.NewRegistry(a.ha, a.store, logger)

	if cfg.HomeAssistant.MCPEndpoint != "" {
		a.bridgeMCP(ctx)
	}

	adapter, err := a.memoryAdapter()
	if err != nil {
		logger.Warn("memory disabled", "error", err)
		adapter = nil
	}
	a.ledger = memory.NewLedger(cfg.Pipeline.ConversationTTL)
	a.closers = append(a.closers, a.ledger.Close)

	a.pipeline = pipeline.New(pipeline.Config{
		Store:    a.store,
		Resolver: command.NewResolver(nil, a.ha, logger),
		Agent: agent.New(a.chat, cfg.LLM.Model,
			llm.Options{Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens},
			cfg.Pipeline.MaxIterations, logger),
		Tools:          a.tools,
		Memory:         memory.NewRecorder(adapter, logger),
		Ledger:         a.ledger,
		LLM:            a.chat,
		Model:          cfg.LLM.Model,
		ConfirmTimeout: cfg.Pipeline.ConfirmTimeout,
		Observer:       observer,
		Logger:         logger,
	})

	logger.Info("core wired",
		"homeassistant", cfg.HomeAssistant.URL,
		"llm_provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"tools", len(a.tools.Names()),
	)
	return a, nil
}

// bridgeMCP registers the tools exposed by Home Assistant's MCP server.
func (a *app) bridgeMCP(ctx context.Context) {
	client, err := mcp.Connect(ctx, a.cfg.HomeAssistant.URL, a.cfg.HomeAssistant.MCPEndpoint, a.cfg.HomeAssistant.Token, a.logger)
	if err != nil {
		a.logger.Warn("MCP server unavailable", "endpoint", a.cfg.HomeAssistant.MCPEndpoint, "error", err)
		return
	}
	n, err := mcp.BridgeTools(ctx, client, a.tools, a.logger)
	if err != nil {
		a.logger.Warn("MCP tool listing failed", "error", err)
		_ = client.Close()
		return
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("MCP tools bridged", "count", n)
}

// memoryAdapter returns the configured backend, or nil when memory is
// off.
func (a *app) memoryAdapter() (memory.Adapter, error) {
	mc := a.cfg.Memory
	if !mc.Enabled {
		return nil, nil
	}

	switch mc.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(mc.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
		db, err := sql.Open("sqlite3", mc.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory database: %w", err)
		}
		store, err := memory.NewSQLiteStore(db, mc.MemU.UserID, mc.RecentLimit)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.logger.Info("memory enabled", "backend", "sqlite", "path", mc.Path)
		return store, nil
	default:
		a.logger.Info("memory enabled", "backend", "memu", "base_url", mc.MemU.BaseURL)
		return memory.NewMemUClient(mc.MemU, a.logger), nil
	}
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
}
