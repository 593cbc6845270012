package prompts

import "fmt"

// ConfirmationSystem frames the optional call that phrases a command
// result for the user.
const ConfirmationSystem = "You are a smart home assistant. Confirm what was just done in one short, friendly sentence. Do not invent details and do not ask questions."

// ConfirmationPrompt returns the user message for the confirmation call.
func ConfirmationPrompt(utterance, result string) string {
	return fmt.Sprintf("The user said: %q\nThe system executed it with this result:\n%s\n\nWrite the confirmation.", utterance, result)
}
