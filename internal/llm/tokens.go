package llm

import "encoding/json"

// charsPerToken is a rough heuristic: 4 chars/token for English text.
// Only used to log how large each round-trip's prompt is getting.
const charsPerToken = 4

// EstimateTokens returns a rough token count for a string.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken // round up
}

// EstimateMessageTokens returns the estimated token count for a single message,
// including per-message framing.
func EstimateMessageTokens(m Message) int {
	tokens := 4 // role tokens, delimiters
	tokens += EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		tokens += EstimateTokens(tc.Function.Name)
		tokens += EstimateTokens(tc.Function.Arguments)
		tokens += 4 // tool call framing
	}
	if m.ToolCallID != "" {
		tokens += EstimateTokens(m.ToolCallID) + 2
	}
	return tokens
}

// EstimateRequestTokens returns the estimated prompt size of a request:
// every message plus the serialized tool catalog.
func EstimateRequestTokens(req Request) int {
	total := 0
	for _, m := range req.Messages {
		total += EstimateMessageTokens(m)
	}
	for _, t := range req.Tools {
		total += EstimateTokens(t.Name)
		total += EstimateTokens(t.Description)
		if schema, err := json.Marshal(t.Parameters); err == nil {
			total += EstimateTokens(string(schema))
		}
		total += 10 // per-tool framing
	}
	return total
}
