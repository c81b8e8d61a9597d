package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicMaxTokens    = 4096
)

type AnthropicClient struct {
	client anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Stream, error) {
	system, msgs := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  msgs,
		Tools:     toAnthropicTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	s := c.client.Messages.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		s.Close()
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return &anthropicStream{s: s, argsSeen: make(map[int64]bool)}, nil
}

// anthropicStream maps content-block events onto index-addressed deltas.
// Tool input arrives as partial_json shards on the tool_use block's index.
type anthropicStream struct {
	s        *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur      Delta
	argsSeen map[int64]bool // tool block index -> received any partial_json
}

func (a *anthropicStream) Next() bool {
	for a.s.Next() {
		d, ok := a.translate(a.s.Current())
		if ok {
			a.cur = d
			return true
		}
	}
	return false
}

func (a *anthropicStream) Current() Delta { return a.cur }
func (a *anthropicStream) Close() error  { return a.s.Close() }

func (a *anthropicStream) Err() error {
	if err := a.s.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

func (a *anthropicStream) translate(ev anthropic.MessageStreamEventUnion) (Delta, bool) {
	switch e := ev.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			return Delta{}, false
		}
		a.argsSeen[e.Index] = false
		return Delta{ToolCalls: []ToolCallDelta{{Index: int(e.Index), ID: tu.ID, Name: tu.Name}}}, true
	case anthropic.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return Delta{Content: d.Text}, d.Text != ""
		case anthropic.InputJSONDelta:
			if d.PartialJSON == "" {
				return Delta{}, false
			}
			a.argsSeen[e.Index] = true
			return Delta{ToolCalls: []ToolCallDelta{{Index: int(e.Index), Arguments: d.PartialJSON}}}, true
		}
	case anthropic.ContentBlockStopEvent:
		// A tool without parameters streams no input shards at all.
		seen, isTool := a.argsSeen[e.Index]
		if isTool && !seen {
			a.argsSeen[e.Index] = true
			return Delta{ToolCalls: []ToolCallDelta{{Index: int(e.Index), Arguments: "{}"}}}, true
		}
	case anthropic.MessageDeltaEvent:
		if e.Delta.StopReason != "" {
			return Delta{FinishReason: string(e.Delta.StopReason)}, true
		}
	}
	return Delta{}, false
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}}
	}
	return out
}

// toAnthropicMessages lifts system messages into the system prompt and folds
// consecutive tool results into a single user turn.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system string
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range messages {
		if m.Role == RoleTool {
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flushResults()

		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flushResults()
	return system, out
}
