package entity

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
)

// SensorDomain is the domain split into numeric, text and invalid buckets.
const SensorDomain = "sensor"

// invalidStates are sensor states that carry no reading.
var invalidStates = map[string]bool{
	"unknown":     true,
	"unavailable": true,
	"none":        true,
}

// SensorData holds the sensor partition of a snapshot. Every sensor is in
// exactly one of Numeric, Text or Invalid.
type SensorData struct {
	Numeric []Entity
	Text    []Entity
	Invalid []Entity

	NumericByGroup Groups
	TextByGroup    Groups
	InvalidByGroup Groups
}

// Len returns the number of sensors.
func (d SensorData) Len() int {
	return len(d.Numeric) + len(d.Text) + len(d.Invalid)
}

// NonSensorData holds every non-sensor entity bucketed by domain. Domains
// lists each domain once, in the order it was first seen in the raw list.
type NonSensorData struct {
	Domains  []string
	ByDomain map[string][]Entity
}

// Get returns the entities of one domain, or nil.
func (d NonSensorData) Get(domain string) []Entity {
	return d.ByDomain[domain]
}

// Len returns the number of non-sensor entities.
func (d NonSensorData) Len() int {
	n := 0
	for _, es := range d.ByDomain {
		n += len(es)
	}
	return n
}

func (d *NonSensorData) add(domain string, e Entity) {
	if d.ByDomain == nil {
		d.ByDomain = make(map[string][]Entity)
	}
	if _, ok := d.ByDomain[domain]; !ok {
		d.Domains = append(d.Domains, domain)
	}
	d.ByDomain[domain] = append(d.ByDomain[domain], e)
}

// Snapshot is the classified view of all entities at FetchedAt.
type Snapshot struct {
	Sensors    SensorData
	NonSensors NonSensorData
	Skipped    []SkippedRecord
	FetchedAt  time.Time
}

// Len returns the number of raw records the snapshot accounts for,
// skipped records included. It always equals the input length of
// [Classify].
func (s *Snapshot) Len() int {
	return s.Sensors.Len() + s.NonSensors.Len() + len(s.Skipped)
}

// Empty reports whether the snapshot holds no classified entity.
func (s *Snapshot) Empty() bool {
	return s == nil || s.Sensors.Len()+s.NonSensors.Len() == 0
}

// Entities returns the classified entities of one domain, or of every
// domain when domain is "". Sensors come back numeric, text, then
// invalid; other domains in first-seen order.
func (s *Snapshot) Entities(domain string) []Entity {
	if s == nil {
		return nil
	}
	var out []Entity
	if domain == "" || domain == SensorDomain {
		out = append(out, s.Sensors.Numeric...)
		out = append(out, s.Sensors.Text...)
		out = append(out, s.Sensors.Invalid...)
	}
	if domain == SensorDomain {
		return out
	}
	if domain != "" {
		return append(out, s.NonSensors.Get(domain)...)
	}
	for _, d := range s.NonSensors.Domains {
		out = append(out, s.NonSensors.Get(d)...)
	}
	return out
}

// IsNumericState reports whether a sensor state parses as a number once
// everything except ASCII digits and dots is stripped. The probe is
// deliberately loose: "25.5%" and "100 W" are numeric, and so is
// "3 devices online".
func IsNumericState(state string) bool {
	var b strings.Builder
	for _, r := range state {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	_, err := strconv.ParseFloat(b.String(), 64)
	return err == nil
}

// IsInvalidState reports whether a sensor state means "no reading".
func IsInvalidState(state string) bool {
	return invalidStates[strings.ToLower(strings.TrimSpace(state))]
}

// Classify partitions raw records into a snapshot. A record that cannot
// be classified is logged and recorded in Snapshot.Skipped; it never
// aborts the batch.
func Classify(raw []homeassistant.State, logger *slog.Logger) *Snapshot {
	if logger == nil {
		logger = slog.Default()
	}

	snap := &Snapshot{
		NonSensors: NonSensorData{ByDomain: make(map[string][]Entity)},
		FetchedAt:  time.Now(),
	}

	skip := func(s homeassistant.State, err error) {
		logger.Warn("skipping entity", "entity_id", s.EntityID, "error", err)
		snap.Skipped = append(snap.Skipped, SkippedRecord{EntityID: s.EntityID, Reason: err.Error()})
	}

	for _, s := range raw {
		if err := checkRecord(s); err != nil {
			skip(s, err)
			continue
		}

		domain := s.Domain()
		if domain != SensorDomain {
			e, err := deviceEntity(domain, s)
			if err != nil {
				skip(s, err)
				continue
			}
			snap.NonSensors.add(domain, e)
			continue
		}

		if IsInvalidState(s.State) {
			e, err := baseEntity(s)
			if err != nil {
				skip(s, err)
				continue
			}
			snap.Sensors.Invalid = append(snap.Sensors.Invalid, e)
			continue
		}

		e, err := sensorEntity(s)
		if err != nil {
			skip(s, err)
			continue
		}
		if IsNumericState(s.State) {
			snap.Sensors.Numeric = append(snap.Sensors.Numeric, e)
		} else {
			snap.Sensors.Text = append(snap.Sensors.Text, e)
		}
	}

	snap.Sensors.NumericByGroup = GroupByName(snap.Sensors.Numeric)
	snap.Sensors.TextByGroup = GroupByName(snap.Sensors.Text)
	snap.Sensors.InvalidByGroup = GroupByName(snap.Sensors.Invalid)

	logger.Debug("classified entities",
		"raw", len(raw),
		"numeric", len(snap.Sensors.Numeric),
		"text", len(snap.Sensors.Text),
		"invalid", len(snap.Sensors.Invalid),
		"domains", len(snap.NonSensors.Domains),
		"skipped", len(snap.Skipped),
	)
	return snap
}
