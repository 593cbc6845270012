package entity

import (
	"fmt"
	"strings"
	"testing"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
)

func TestOverview(t *testing.T) {
	var raw []homeassistant.State
	for i := 1; i <= 5; i++ {
		raw = append(raw, st(fmt.Sprintf("light.l%d", i), "on", named(fmt.Sprintf("Lamp %d", i))))
	}
	raw = append(raw,
		st("switch.fan", "off", named("Fan")),
		st("sensor.temp", "20", named("Temp")),
		st("sensor.mode", "eco", named("Mode")),
	)

	got := Overview(Classify(raw, discardLogger()))
	want := strings.Join([]string{
		"- light devices: 5",
		"  - Lamp 1: currently on",
		"  - Lamp 2: currently on",
		"  - Lamp 3: currently on",
		"  - ... and 2 more",
		"- switch devices: 1",
		"  - Fan: currently off",
		"- numeric sensors: 1",
		"- text sensors: 1",
	}, "\n")
	if got != want {
		t.Errorf("Overview:\n%s\nwant:\n%s", got, want)
	}
}

func TestOverview_Nil(t *testing.T) {
	if got := Overview(nil); got != NoDevicesMessage {
		t.Errorf("Overview(nil) = %q", got)
	}
}

func TestSummary(t *testing.T) {
	snap := Classify(sampleStates(), discardLogger())
	got := Summary(snap)

	for _, want := range []string{
		"- numeric sensors: 3",
		"- text sensors: 1",
		"- invalid sensors: 2",
		"Kitchen Temperature (value: 21.5°C)",
		"- light: 3",
		"### light examples",
		"- group 'bedroom': 1 entities",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "### switch examples\n- group 'garage'") {
		t.Errorf("Summary should group switches:\n%s", got)
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(Classify(sampleStates(), discardLogger()))
	for _, want := range []string{"### light", "- Doorbell: 2024-01-01T00:00:00", "### Numeric sensors (3)", "- Weather: sunny"} {
		if !strings.Contains(got, want) {
			t.Errorf("Describe missing %q:\n%s", want, got)
		}
	}
}
