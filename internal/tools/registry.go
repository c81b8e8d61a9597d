package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/chris/wattwise/internal/llm"
)

// ErrUnknownTool is returned by Dispatch for a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidArgumentsError reports decoded arguments that violate a tool's
// input schema.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// Handler executes one tool. It may block; it should honor ctx.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type entry struct {
	def     Definition
	schema  *jsonschema.Schema
	handler Handler
}

// Registry maps tool names to handlers. It is populated at startup and only
// read afterwards, so concurrent Dispatch calls need no locking.
type Registry struct {
	order   []string
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool, compiling its input schema up front so a broken
// schema fails at startup rather than on first call.
func (r *Registry) Register(def Definition, h Handler) error {
	if def.Name == "" {
		return errors.New("registering tool: empty name")
	}
	if h == nil {
		return fmt.Errorf("registering tool %s: nil handler", def.Name)
	}
	if _, dup := r.entries[def.Name]; dup {
		return fmt.Errorf("registering tool %s: already registered", def.Name)
	}
	if def.InputSchema == nil {
		def.InputSchema = obj(nil)
	}
	raw, err := json.Marshal(def.InputSchema)
	if err != nil {
		return fmt.Errorf("encoding schema for %s: %w", def.Name, err)
	}
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return fmt.Errorf("compiling schema for %s: %w", def.Name, err)
	}
	r.entries[def.Name] = &entry{def: def, schema: schema, handler: h}
	r.order = append(r.order, def.Name)
	return nil
}

// List returns all tools in declaration order.
func (r *Registry) List() []Definition {
	defs := make([]Definition, len(r.order))
	for i, name := range r.order {
		defs[i] = r.entries[name].def
	}
	return defs
}

// Catalog returns the tool list in the shape providers expect.
func (r *Registry) Catalog() []llm.Tool {
	out := make([]llm.Tool, len(r.order))
	for i, name := range r.order {
		def := r.entries[name].def
		out[i] = llm.Tool{Name: def.Name, Description: def.Description, Parameters: def.InputSchema}
	}
	return out
}

// Dispatch validates args against the tool's schema and runs its handler.
// Handler errors are returned as-is.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if result := e.schema.Validate(args); !result.IsValid() {
		return nil, &InvalidArgumentsError{Tool: name, Reason: result.Error()}
	}
	return e.handler(ctx, args)
}
