package prompts

import (
	"fmt"
	"strings"
)

const systemTemplate = `You are a smart home assistant that helps the user control and understand their Home Assistant devices.

Current device overview:
%s
%s
Answer the user's question or request helpfully. If you cannot answer, say so honestly.
Use the provided tools for device control. Do not guess entity ids; look them up first.`

// SystemPrompt builds the agent's system prompt from the device overview
// and the remembered-user summary. The memory section is omitted when the
// summary is empty.
func SystemPrompt(overview, memory string) string {
	var mem string
	if memory = strings.TrimSpace(memory); memory != "" {
		mem = "\nWhat you remember about the user:\n" + memory + "\n"
	}
	return fmt.Sprintf(systemTemplate, overview, mem)
}
