package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/chris/wattwise/internal/llm"
	"github.com/chris/wattwise/internal/tracer"
)

// DefaultMaxRounds bounds the model round-trips of one Run.
const DefaultMaxRounds = 5

var (
	// ErrToolArguments wraps a tool call whose argument text is not valid JSON.
	ErrToolArguments = errors.New("decoding tool arguments")
	// ErrProviderStream wraps failures to open or read a model stream.
	ErrProviderStream = errors.New("provider stream")
)

// Toolbox is the tool catalog and dispatcher the loop calls into.
type Toolbox interface {
	Catalog() []llm.Tool
	Dispatch(ctx context.Context, name string, args map[string]any) (any, error)
}

// Emitter receives response text as soon as it is produced. An error aborts
// the run; it usually means the client has gone away.
type Emitter interface {
	Emit(chunk string) error
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(chunk string) error

func (f EmitterFunc) Emit(chunk string) error { return f(chunk) }

// Discard drops everything emitted.
var Discard Emitter = EmitterFunc(func(string) error { return nil })

// Agent runs the tool-calling loop against one model client. It keeps no
// per-request state and is safe for concurrent use.
type Agent struct {
	client    llm.Client
	tools     Toolbox
	system    string
	maxRounds int
	logger    *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithSystemPrompt replaces the default system prompt. An empty prompt sends none.
func WithSystemPrompt(prompt string) Option { return func(a *Agent) { a.system = prompt } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(a *Agent) { a.logger = l } }

// WithMaxRounds sets the round limit. Non-positive values keep DefaultMaxRounds.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// New returns an Agent using the energy analyst system prompt and
// DefaultMaxRounds unless overridden.
func New(client llm.Client, tools Toolbox, opts ...Option) *Agent {
	a := &Agent{
		client:    client,
		tools:     tools,
		system:    llm.SystemPrompt,
		maxRounds: DefaultMaxRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result describes a finished Run.
type Result struct {
	// Text is the assistant text of the last round.
	Text   string
	Rounds int
	// Capped is set when the run stopped at the round limit with tool calls
	// still outstanding.
	Capped bool
	// Messages is the full conversation, system prompt included. The final
	// assistant text is not part of it.
	Messages []llm.Message
}

// Run drives the tool-calling loop for one request. Model text and tool
// annotations are written to out as they are produced. Tool failures are
// reported to the model and never end the run; provider, emitter and
// context errors do.
func (a *Agent) Run(ctx context.Context, history []llm.Message, out Emitter) (*Result, error) {
	if out == nil {
		out = Discard
	}
	ctx, span := tracer.StartSpan(ctx, "agent.run")
	defer span.End()

	conv := NewConversation(a.system, history)
	catalog := a.tools.Catalog()

	var text string
	for round := 1; round <= a.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		asm, err := a.streamRound(ctx, conv, catalog, round, out)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		text = asm.Text()
		calls := asm.Calls()
		if len(calls) == 0 {
			span.SetAttributes(tracer.IntAttr("rounds", round))
			tracer.SetOK(span)
			return &Result{Text: text, Rounds: round, Messages: conv.Messages()}, nil
		}

		conv.Append(llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := a.execute(ctx, conv, call, out); err != nil {
				tracer.RecordError(span, err)
				return nil, err
			}
		}
	}

	a.logger.Warn("tool round limit reached", "rounds", a.maxRounds)
	span.SetAttributes(tracer.IntAttr("rounds", a.maxRounds), tracer.BoolAttr("capped", true))
	if err := out.Emit(capAnnotation(a.maxRounds)); err != nil {
		return nil, fmt.Errorf("writing response: %w", err)
	}
	return &Result{Text: text, Rounds: a.maxRounds, Capped: true, Messages: conv.Messages()}, nil
}

func (a *Agent) streamRound(ctx context.Context, conv *Conversation, catalog []llm.Tool, round int, out Emitter) (*Assembler, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.round", trace.WithAttributes(tracer.IntAttr("round", round)))
	defer span.End()

	req := llm.Request{Messages: conv.Messages(), Tools: catalog}
	a.logger.Debug("requesting model turn",
		"round", round, "messages", conv.Len(), "est_tokens", llm.EstimateRequestTokens(req))

	stream, err := a.client.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = fmt.Errorf("%w: %w", ErrProviderStream, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	defer stream.Close()

	asm := &Assembler{}
	for stream.Next() {
		if chunk := asm.Add(stream.Current()); chunk != "" {
			if err := out.Emit(chunk); err != nil {
				return nil, fmt.Errorf("writing response: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = fmt.Errorf("%w: %w", ErrProviderStream, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if asm.Pending() {
		a.logger.Debug("stream ended without a finish reason", "round", round)
	}
	asm.Close()

	span.SetAttributes(tracer.IntAttr("tool_calls", len(asm.Calls())))
	return asm, nil
}

// execute runs one tool call and records its outcome in conv. The returned
// error is only ever an emitter failure.
func (a *Agent) execute(ctx context.Context, conv *Conversation, call llm.ToolCall, out Emitter) error {
	name := call.Function.Name
	ctx, span := tracer.StartSpan(ctx, "agent.tool", trace.WithAttributes(
		tracer.StringAttr("tool.name", name),
		tracer.StringAttr("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	content, pretty, err := a.invoke(ctx, call)
	if err != nil {
		tracer.RecordError(span, err)
		a.logger.Warn("tool failed", "tool", name, "call_id", call.ID, "error", err)
		conv.Append(llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: errorContent(err)})
		if err := out.Emit(errorAnnotation(name, err)); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
		return nil
	}

	a.logger.Info("tool executed", "tool", name, "call_id", call.ID,
		"duration", time.Since(start), "result", truncate(content, 200))
	conv.Append(llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
	if err := out.Emit(toolAnnotation(name, pretty)); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

// invoke decodes the call's arguments, dispatches it and encodes the result
// both compactly and indented.
func (a *Agent) invoke(ctx context.Context, call llm.ToolCall) (content string, pretty []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Function.Name, r)
		}
	}()

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrToolArguments, err)
	}
	result, err := a.tools.Dispatch(ctx, call.Function.Name, args)
	if err != nil {
		return "", nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", nil, fmt.Errorf("encoding result: %w", err)
	}
	pretty, err = json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding result: %w", err)
	}
	return string(raw), pretty, nil
}

func errorContent(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()}) // map of strings cannot fail
	return string(b)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
