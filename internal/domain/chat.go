package domain

// ChatMessage is the provider-agnostic chat message shape used by the reasoning
// agents and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes a single completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int
	// JSONObject asks the provider to constrain output to a JSON object.
	JSONObject bool
}
