package prompts

import "fmt"

// AnalysisSystem is the system message for the entity analysis call.
const AnalysisSystem = "You are a professional smart home automation consultant with deep knowledge of Home Assistant."

const analysisTemplate = `You are a smart home automation expert who analyzes Home Assistant entities and designs control logic.

Here is the entity summary retrieved from Home Assistant:
%s

Based on these entities, provide:

1. Entity type analysis: the main entity types, how many of each, and what they are likely used for
2. Automation scenarios: 3-5 practical automations the existing entities make possible
3. Control logic: triggers, conditions and actions for each scenario
4. Example code: a Home Assistant automation YAML example for each scenario
5. Improvements: missing or incomplete entities worth adding or fixing

Keep the analysis practical and consistent with Home Assistant best practice.`

// AnalysisPrompt returns the user message asking for an analysis of the
// rendered entity summary.
func AnalysisPrompt(summary string) string {
	return fmt.Sprintf(analysisTemplate, summary)
}

// SummarySystem is the system message for the condensing call.
const SummarySystem = "You write short summaries."

// SummaryPrompt asks for a summary of analysis no longer than maxWords.
func SummaryPrompt(analysis string, maxWords int) string {
	return fmt.Sprintf("Condense the following analysis report into a short summary of at most %d words:\n%s", maxWords, analysis)
}
