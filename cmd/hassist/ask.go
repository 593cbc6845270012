package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/api"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
)

// runAsk processes one utterance and prints the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, utterance string) error {
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

	state := a.pipeline.Process(ctx, "", utterance, nil)

	if outputFmt == "json" {
		resp := api.NewChatResponse("", state)
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(stdout, state.Response)
	return nil
}

// runEntities prints the classified snapshot. With a domain it lists
// that domain's entities instead of the summary.
func runEntities(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, domain string) error {
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
	return printEntities(stdout, snap, outputFmt, domain)
}

func printEntities(w io.Writer, snap *entity.Snapshot, outputFmt, domain string) error {
	if outputFmt == "json" {
		entities := snap.Entities(domain)
		out := make([]api.EntityInfo, 0, len(entities))
		for _, e := range entities {
			out = append(out, api.EntityInfo{
				EntityID: e.ID,
				Name:     e.DisplayName(),
				Domain:   e.Domain(),
				State:    e.State,
				Unit:     e.UnitString(),
				Group:    entity.GroupOf(e),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if domain == "" {
		fmt.Fprintln(w, entity.Summary(snap))
		return nil
	}

	entities := snap.Entities(domain)
	if len(entities) == 0 {
		fmt.Fprintf(w, "no %s entities\n", domain)
		return nil
	}
	for _, g := range entity.GroupByName(entities) {
		fmt.Fprintf(w, "[%s]\n", g.Name)
		for _, e := range g.Entities {
			fmt.Fprintf(w, "  %-40s %s %s\n", e.ID, e.State, e.UnitString())
		}
	}
	return nil
}
