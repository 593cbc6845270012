// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// HomeAssistant is the subset of the REST client the native tools use.
type HomeAssistant interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Snapshots supplies the current classified entity view.
type Snapshots interface {
	Current(ctx context.Context) (*entity.Snapshot, error)
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	ha     HomeAssistant
	store  Snapshots
	logger *slog.Logger
}

// NewRegistry creates a registry with the native Home Assistant tools.
// Tools whose backend is nil are not registered.
func NewRegistry(ha HomeAssistant, store Snapshots, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		ha:     ha,
		store:  store,
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	if r.ha != nil {
		r.Register(&Tool{
			Name:        "get_state",
			Description: "Get the current state of a Home Assistant entity. Use this to check if lights are on, doors are open, temperatures, etc.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The entity ID (e.g., light.living_room, sensor.temperature, binary_sensor.front_door)",
					},
				},
				"required": []string{"entity_id"},
			},
			Handler: r.handleGetState,
		})

		r.Register(&Tool{
			Name:        "call_service",
			Description: "Call a Home Assistant service to control devices. Examples: turn on lights, set thermostat temperature, lock doors.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "The service domain (e.g., light, switch, climate, lock)",
					},
					"service": map[string]any{
						"type":        "string",
						"description": "The service to call (e.g., turn_on, turn_off, set_temperature, lock)",
					},
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The target entity ID",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Additional service data (e.g., brightness, temperature)",
					},
				},
				"required": []string{"domain", "service", "entity_id"},
			},
			Handler: r.handleCallService,
		})
	}

	if r.store != nil {
		r.Register(&Tool{
			Name:        "list_entities",
			Description: "List the entities in a domain (e.g., all lights, all sensors). Use this to discover what's available.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "The domain to list (e.g., light, switch, sensor, climate, cover)",
					},
					"group": map[string]any{
						"type":        "string",
						"description": "Only entities in this location group (e.g., kitchen, bedroom)",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of entities to return (default 20)",
					},
				},
				"required": []string{"domain"},
			},
			Handler: r.handleListEntities,
		})

		r.registerFindEntity()
	}
}

// Register adds a tool to the registry, replacing one with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List returns all tools in the OpenAI function format, sorted by name.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. An unknown name returns
// *ErrToolUnavailable.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	r.logger.Debug("executing tool", "tool", name)
	return tool.Handler(ctx, args)
}

func (r *Registry) handleGetState(ctx context.Context, args map[string]any) (string, error) {
	entityID, _ := args["entity_id"].(string)
	if entityID == "" {
		return "", fmt.Errorf("entity_id is required")
	}

	state, err := r.ha.GetState(ctx, entityID)
	if err != nil {
		return "", err
	}
	return FormatEntityState(state), nil
}

// FormatEntityState renders a state record with its most useful
// attributes for the model.
func FormatEntityState(state *homeassistant.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Entity: %s\nState: %s\n", state.EntityID, state.State)

	if name, ok := state.Attributes["friendly_name"].(string); ok {
		fmt.Fprintf(&sb, "Name: %s\n", name)
	}
	if unit, ok := state.Attributes["unit_of_measurement"].(string); ok {
		fmt.Fprintf(&sb, "Unit: %s\n", unit)
	}
	if brightness, ok := state.Attributes["brightness"].(float64); ok {
		fmt.Fprintf(&sb, "Brightness: %.0f%%\n", brightness/255*100)
	}
	if temp, ok := state.Attributes["temperature"].(float64); ok {
		fmt.Fprintf(&sb, "Temperature: %.1f\n", temp)
	}
	return sb.String()
}

func (r *Registry) handleListEntities(ctx context.Context, args map[string]any) (string, error) {
	domain, _ := args["domain"].(string)
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}
	group, _ := args["group"].(string)

	limit := 20
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	snap, err := r.store.Current(ctx)
	if err != nil {
		return "", err
	}

	entities := snap.Entities(domain)
	if group != "" {
		entities = entity.GroupByName(entities).Map()[group]
	}

	var lines []string
	for _, e := range entities {
		line := fmt.Sprintf("- %s (%s): %s", e.ID, e.DisplayName(), e.State)
		if unit := e.UnitString(); unit != "" {
			line += " " + unit
		}
		lines = append(lines, line)
		if len(lines) >= limit {
			break
		}
	}

	if len(lines) == 0 {
		if group != "" {
			return fmt.Sprintf("No entities found in domain '%s' and group '%s'", domain, group), nil
		}
		return fmt.Sprintf("No entities found in domain '%s'", domain), nil
	}
	return fmt.Sprintf("Found %d %s entities:\n%s", len(lines), domain, strings.Join(lines, "\n")), nil
}

func (r *Registry) handleCallService(ctx context.Context, args map[string]any) (string, error) {
	domain, _ := args["domain"].(string)
	service, _ := args["service"].(string)
	entityID, _ := args["entity_id"].(string)

	if domain == "" || service == "" || entityID == "" {
		return "", fmt.Errorf("domain, service, and entity_id are required")
	}

	data := map[string]any{
		"entity_id": entityID,
	}
	if extra, ok := args["data"].(map[string]any); ok {
		for k, v := range extra {
			if k != "entity_id" {
				data[k] = v
			}
		}
	}

	if err := r.ha.CallService(ctx, domain, service, data); err != nil {
		return "", err
	}

	r.logger.Info("service called by agent", "domain", domain, "service", service, "entity_id", entityID)
	return fmt.Sprintf("Successfully called %s.%s on %s", domain, service, entityID), nil
}
