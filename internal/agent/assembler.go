package agent

import (
	"strings"

	"github.com/chris/wattwise/internal/llm"
)

// Assembler rebuilds the text and tool calls of one streamed model response.
//
// Tool-call fragments are addressed by index. Only one call is in progress at
// a time: a fragment with a different index finalizes it, as does a finish
// reason or the end of the stream. A call that never received an id is
// dropped when finalized. An index that reappears after another index starts
// a new call; fragments are never merged across that gap.
type Assembler struct {
	text      strings.Builder
	current   *llm.ToolCall
	completed []llm.ToolCall
}

// Add folds one delta into the assembler and returns the text it carried,
// which the caller should forward immediately.
func (a *Assembler) Add(d llm.Delta) string {
	a.text.WriteString(d.Content)

	for _, frag := range d.ToolCalls {
		if a.current != nil && a.current.Index != frag.Index {
			a.finalize()
		}
		if a.current == nil {
			a.current = &llm.ToolCall{
				ID:    frag.ID,
				Index: frag.Index,
				Function: llm.FunctionCall{
					Name:      frag.Name,
					Arguments: frag.Arguments,
				},
			}
			continue
		}
		a.current.Function.Arguments += frag.Arguments
		if frag.Name != "" {
			a.current.Function.Name = frag.Name
		}
		if frag.ID != "" {
			a.current.ID = frag.ID
		}
	}

	if d.FinishReason != "" {
		a.finalize()
	}
	return d.Content
}

// Close finalizes a call still in progress when the stream ends without a
// finish reason.
func (a *Assembler) Close() {
	a.finalize()
}

func (a *Assembler) finalize() {
	if a.current == nil {
		return
	}
	if a.current.ID != "" {
		a.completed = append(a.completed, *a.current)
	}
	a.current = nil
}

// Text is the accumulated text content of the response.
func (a *Assembler) Text() string { return a.text.String() }

// Calls returns the completed tool calls in the order they were finalized.
func (a *Assembler) Calls() []llm.ToolCall { return a.completed }

// Pending reports whether a call is still being accumulated.
func (a *Assembler) Pending() bool { return a.current != nil }
