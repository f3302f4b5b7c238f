package domain

// ChatMessage is the provider-agnostic chat message shape used by prompt
// assembly and the LLM integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResult is the normalized result of one completion-provider call.
// Depending on the provider's response mode the payload text may live in the
// flattened OutputText field, inside the Outputs content array, or in the
// generic Text field; extraction probes them in that order.
type CompletionResult struct {
	ResponseID string
	Model      string
	OutputText string
	Outputs    []OutputItem
	Text       string
	Usage      CompletionUsage
}

// OutputItem is one entry of the structured output array.
type OutputItem struct {
	Content []OutputContent
}

// OutputContent is one content segment of an output item.
type OutputContent struct {
	Type string
	Text string
}

// CompletionUsage is the provider-reported token accounting. All fields may
// be zero when the provider omits usage metadata.
type CompletionUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
