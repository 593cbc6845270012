package entity

import (
	"fmt"
	"strings"
)

// NoDevicesMessage is the overview of an empty snapshot.
const NoDevicesMessage = "No device information available"

// Overview renders the compact device list placed in the assistant's
// system prompt: each non-sensor domain with its count and first three
// entities, then the sensor counts.
func Overview(snap *Snapshot) string {
	if snap == nil {
		return NoDevicesMessage
	}

	var b strings.Builder
	for _, domain := range snap.NonSensors.Domains {
		entities := snap.NonSensors.Get(domain)
		if len(entities) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s devices: %d\n", domain, len(entities))
		for _, e := range entities[:min(3, len(entities))] {
			fmt.Fprintf(&b, "  - %s: currently %s\n", e.DisplayName(), e.State)
		}
		if len(entities) > 3 {
			fmt.Fprintf(&b, "  - ... and %d more\n", len(entities)-3)
		}
	}
	if n := len(snap.Sensors.Numeric); n > 0 {
		fmt.Fprintf(&b, "- numeric sensors: %d\n", n)
	}
	if n := len(snap.Sensors.Text); n > 0 {
		fmt.Fprintf(&b, "- text sensors: %d\n", n)
	}

	if b.Len() == 0 {
		return NoDevicesMessage
	}
	return strings.TrimRight(b.String(), "\n")
}

// summaryDomains get grouped samples in Summary.
var summaryDomains = []string{"light", "switch", "binary_sensor"}

// Summary renders the longer entity report printed by the entities
// command and fed to the analysis prompt.
func Summary(snap *Snapshot) string {
	if snap == nil {
		return NoDevicesMessage
	}

	var b strings.Builder
	s := snap.Sensors

	b.WriteString("## Sensors\n")
	fmt.Fprintf(&b, "- numeric sensors: %d\n", len(s.Numeric))
	fmt.Fprintf(&b, "- text sensors: %d\n", len(s.Text))
	fmt.Fprintf(&b, "- invalid sensors: %d\n", len(s.Invalid))

	if len(s.NumericByGroup) > 0 {
		b.WriteString("\n### Numeric sensor groups\n")
		for _, g := range s.NumericByGroup[:min(3, len(s.NumericByGroup))] {
			fmt.Fprintf(&b, "- group '%s': %d sensors\n", g.Name, len(g.Entities))
			for _, e := range g.Entities[:min(2, len(g.Entities))] {
				fmt.Fprintf(&b, "  - %s (value: %s%s)\n", e.DisplayName(), e.State, e.UnitString())
			}
		}
	}

	if len(snap.NonSensors.Domains) > 0 {
		b.WriteString("\n## Devices\n")
		for _, domain := range snap.NonSensors.Domains {
			fmt.Fprintf(&b, "- %s: %d\n", domain, len(snap.NonSensors.Get(domain)))
		}
		for _, domain := range summaryDomains {
			entities := snap.NonSensors.Get(domain)
			if len(entities) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n### %s examples\n", domain)
			groups := GroupByName(entities)
			for _, g := range groups[:min(2, len(groups))] {
				fmt.Fprintf(&b, "- group '%s': %d entities\n", g.Name, len(g.Entities))
				for _, e := range g.Entities[:min(3, len(g.Entities))] {
					fmt.Fprintf(&b, "  - %s (state: %s)\n", e.DisplayName(), e.State)
				}
			}
		}
	}

	if len(snap.Skipped) > 0 {
		fmt.Fprintf(&b, "\n%d records skipped as malformed\n", len(snap.Skipped))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Describe renders up to five entities per domain and per sensor kind for
// the analysis prompt.
func Describe(snap *Snapshot) string {
	if snap == nil {
		return NoDevicesMessage
	}

	var b strings.Builder
	b.WriteString("## Devices\n")
	for _, domain := range snap.NonSensors.Domains {
		entities := snap.NonSensors.Get(domain)
		fmt.Fprintf(&b, "### %s\n", domain)
		for _, e := range entities[:min(5, len(entities))] {
			fmt.Fprintf(&b, "- %s: %s\n", e.DisplayName(), e.State)
		}
		if len(entities) > 5 {
			fmt.Fprintf(&b, "... and %d more\n", len(entities)-5)
		}
	}

	b.WriteString("## Sensors\n")
	fmt.Fprintf(&b, "### Numeric sensors (%d)\n", len(snap.Sensors.Numeric))
	for _, e := range snap.Sensors.Numeric[:min(5, len(snap.Sensors.Numeric))] {
		fmt.Fprintf(&b, "- %s: %s%s\n", e.DisplayName(), e.State, e.UnitString())
	}
	fmt.Fprintf(&b, "### Text sensors (%d)\n", len(snap.Sensors.Text))
	for _, e := range snap.Sensors.Text[:min(5, len(snap.Sensors.Text))] {
		fmt.Fprintf(&b, "- %s: %s\n", e.DisplayName(), e.State)
	}
	return strings.TrimRight(b.String(), "\n")
}
