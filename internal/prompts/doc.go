// Package prompts contains the LLM prompt templates used by hassist.
//
// Prompt text is Go code rather than config because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// Each prompt category has its own file with an exported function that
// takes the dynamic parts and returns the interpolated prompt.
package prompts
