package prompts

// EmptyResponseNudge is injected when the model returns no content after
// executing tool calls. It gives the model one more chance to answer.
const EmptyResponseNudge = "You executed tool calls but did not provide a response to the user. Please respond now."

// EmptyResponseFallback is returned when the model produces no content
// even after being nudged.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// MaxIterationsNudge asks for a final answer once the tool budget is spent.
const MaxIterationsNudge = "You have used all available tool calls for this request. Answer the user now with what you know."
