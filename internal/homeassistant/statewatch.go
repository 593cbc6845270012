package homeassistant

import (
	"context"
	"encoding/json"
	"log/slog"
)

// StateChangeHandler receives the entity id of every state_changed event.
// newState is "" when the entity was removed.
type StateChangeHandler func(entityID, newState string)

// StateWatcher turns a stream of bus events into state change callbacks.
type StateWatcher struct {
	events  <-chan Event
	handler StateChangeHandler
	logger  *slog.Logger
}

// NewStateWatcher creates a watcher reading from events. Typically events
// is [WSClient.Events] after subscribing to state_changed.
func NewStateWatcher(events <-chan Event, handler StateChangeHandler, logger *slog.Logger) *StateWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateWatcher{events: events, handler: handler, logger: logger}
}

// Run blocks until ctx is done or the event channel is closed.
func (w *StateWatcher) Run(ctx context.Context) {
	w.logger.Info("state watcher started")
	defer w.logger.Info("state watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *StateWatcher) handle(ev Event) {
	if ev.Type != "state_changed" {
		return
	}

	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		w.logger.Debug("bad state_changed payload", "error", err)
		return
	}
	if data.EntityID == "" {
		return
	}

	newState := ""
	if data.NewState != nil {
		newState = data.NewState.State
	}
	w.handler(data.EntityID, newState)
}
