// Package entity classifies Home Assistant state records into the
// snapshot used for command resolution and prompt building.
//
// A [Snapshot] splits sensors into numeric, text and invalid buckets and
// every other entity into per-domain buckets. Any entity list can be
// grouped by inferred location with [GroupByName].
package entity

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
)

// Name and event type used when Home Assistant omits them.
const (
	DefaultFriendlyName = "unnamed"
	DefaultEventType    = "unknown"
)

// Entity is one classified record. Entities are built fresh on every
// refresh and never mutated afterwards.
type Entity struct {
	ID           string
	FriendlyName string
	State        string
	LastUpdated  time.Time

	// Unit is nil when the record has no unit_of_measurement. Only set
	// on sensors with a valid state.
	Unit *string

	// Attributes holds every raw attribute for lights and events, and
	// everything except friendly_name and unit_of_measurement for valid
	// sensors. Nil otherwise.
	Attributes map[string]any

	// EventType is set for the event domain only.
	EventType string
}

// Domain returns the part of the id before the first dot.
func (e Entity) Domain() string {
	domain, _, _ := strings.Cut(e.ID, ".")
	return domain
}

// DisplayName returns the friendly name, or the id when the name is empty.
func (e Entity) DisplayName() string {
	if e.FriendlyName != "" {
		return e.FriendlyName
	}
	return e.ID
}

// UnitString returns the unit or "".
func (e Entity) UnitString() string {
	if e.Unit == nil {
		return ""
	}
	return *e.Unit
}

var (
	errMalformedID    = errors.New("entity id is not <domain>.<name>")
	errNoAttributes   = errors.New("attributes missing")
	errNameNotString  = errors.New("friendly_name is not a string")
	errUnitNotString  = errors.New("unit_of_measurement is not a string")
	errEventNotString = errors.New("event_type is not a string")
)

// checkRecord rejects records no bucket can hold.
func checkRecord(s homeassistant.State) error {
	if s.DecodeError != "" {
		return fmt.Errorf("undecodable record: %s", s.DecodeError)
	}
	domain, name, ok := strings.Cut(s.EntityID, ".")
	if !ok || domain == "" || name == "" {
		return errMalformedID
	}
	if s.Attributes == nil {
		return errNoAttributes
	}
	return nil
}

func friendlyName(attrs map[string]any) (string, error) {
	v, ok := attrs["friendly_name"]
	if !ok || v == nil {
		return DefaultFriendlyName, nil
	}
	name, ok := v.(string)
	if !ok {
		return "", errNameNotString
	}
	return name, nil
}

// baseEntity copies the fields every bucket carries.
func baseEntity(s homeassistant.State) (Entity, error) {
	name, err := friendlyName(s.Attributes)
	if err != nil {
		return Entity{}, err
	}
	return Entity{
		ID:           s.EntityID,
		FriendlyName: name,
		State:        s.State,
		LastUpdated:  s.LastUpdated,
	}, nil
}

// sensorEntity builds a sensor with a valid state.
func sensorEntity(s homeassistant.State) (Entity, error) {
	e, err := baseEntity(s)
	if err != nil {
		return Entity{}, err
	}

	if v, ok := s.Attributes["unit_of_measurement"]; ok && v != nil {
		unit, ok := v.(string)
		if !ok {
			return Entity{}, errUnitNotString
		}
		e.Unit = &unit
	}

	e.Attributes = make(map[string]any, len(s.Attributes))
	for k, v := range s.Attributes {
		if k == "friendly_name" || k == "unit_of_measurement" {
			continue
		}
		e.Attributes[k] = v
	}
	return e, nil
}

// deviceEntity builds a non-sensor entity for the given domain.
func deviceEntity(domain string, s homeassistant.State) (Entity, error) {
	e, err := baseEntity(s)
	if err != nil {
		return Entity{}, err
	}

	switch domain {
	case "light":
		e.Attributes = maps.Clone(s.Attributes)
	case "event":
		e.Attributes = maps.Clone(s.Attributes)
		e.EventType = DefaultEventType
		if v, ok := s.Attributes["event_type"]; ok && v != nil {
			et, ok := v.(string)
			if !ok {
				return Entity{}, errEventNotString
			}
			e.EventType = et
		}
	}
	return e, nil
}

// SkippedRecord is a raw record left out of a snapshot.
type SkippedRecord struct {
	EntityID string
	Reason   string
}

func (s SkippedRecord) String() string {
	id := s.EntityID
	if id == "" {
		id = "(empty id)"
	}
	return fmt.Sprintf("%s: %s", id, s.Reason)
}
