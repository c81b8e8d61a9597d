// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/chris/wattwise/internal/llm"
)

// Turn is one scripted model response. Err, when set, is reported by the
// stream after all Deltas have been delivered.
type Turn struct {
	Deltas []llm.Delta
	Err    error
}

// Client replays Turns in order, one per Stream call. When Repeat is set the
// last turn is replayed forever.
type Client struct {
	Turns  []Turn
	Repeat bool
	// StartErr, when set, fails every Stream call before any delta.
	StartErr error

	mu       sync.Mutex
	requests []llm.Request
}

func New(turns ...Turn) *Client {
	return &Client{Turns: turns}
}

func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, llm.Request{
		Messages: slices.Clone(req.Messages),
		Tools:    req.Tools,
	})
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	n := len(c.requests) - 1
	if n >= len(c.Turns) {
		if !c.Repeat || len(c.Turns) == 0 {
			return nil, fmt.Errorf("llmtest: no scripted turn %d", n+1)
		}
		n = len(c.Turns) - 1
	}
	return &Stream{ctx: ctx, turn: c.Turns[n], pos: -1}, nil
}

// Requests returns every request received so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requests)
}

type Stream struct {
	ctx    context.Context
	turn   Turn
	pos    int
	err    error
	closed bool
}

func (s *Stream) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.pos+1 >= len(s.turn.Deltas) {
		s.err = s.turn.Err
		return false
	}
	s.pos++
	return true
}

func (s *Stream) Current() llm.Delta { return s.turn.Deltas[s.pos] }
func (s *Stream) Err() error         { return s.err }

func (s *Stream) Close() error {
	s.closed = true
	return nil
}

// Text is a content-only delta.
func Text(s string) llm.Delta {
	return llm.Delta{Content: s}
}

// Call is a delta carrying one tool-call fragment.
func Call(index int, id, name, args string) llm.Delta {
	return llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: index, ID: id, Name: name, Arguments: args}}}
}

// Finish is a terminal delta.
func Finish(reason string) llm.Delta {
	return llm.Delta{FinishReason: reason}
}

// ToolTurn is a complete response requesting the given single tool call.
func ToolTurn(id, name, args string) Turn {
	return Turn{Deltas: []llm.Delta{Call(0, id, name, args), Finish("tool_calls")}}
}

// TextTurn is a complete response of plain text.
func TextTurn(chunks ...string) Turn {
	var t Turn
	for _, c := range chunks {
		t.Deltas = append(t.Deltas, Text(c))
	}
	t.Deltas = append(t.Deltas, Finish("stop"))
	return t
}
