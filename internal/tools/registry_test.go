package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"success": true, "args": args}, nil
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "a"}, echo))

	assert.ErrorContains(t, r.Register(Definition{Name: "a"}, echo), "already registered")
	assert.Error(t, r.Register(Definition{}, echo))
	assert.ErrorContains(t, r.Register(Definition{Name: "b"}, nil), "nil handler")
}

func TestListKeepsDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(Definition{Name: name, Description: name + " tool"}, echo))
	}

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)

	catalog := r.Catalog()
	require.Len(t, catalog, 3)
	assert.Equal(t, "zeta", catalog[0].Name)
	assert.Equal(t, "zeta tool", catalog[0].Description)
	assert.Equal(t, "object", catalog[0].Parameters["type"])
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "nope", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.ErrorContains(t, err, "nope")
}

func TestDispatchValidatesArguments(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register(Definition{
		Name: "pick",
		InputSchema: objReq(map[string]any{
			"color": enumProp("", "red", "green"),
		}, "color"),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		called = true
		return nil, nil
	}))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"outside enum", map[string]any{"color": "blue"}},
		{"wrong type", map[string]any{"color": 3.0}},
		{"extra property", map[string]any{"color": "red", "shade": "dark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), "pick", tt.args)
			var invalid *InvalidArgumentsError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "pick", invalid.Tool)
			assert.NotEmpty(t, invalid.Reason)
		})
	}
	assert.False(t, called, "handler must not run on invalid arguments")

	_, err := r.Dispatch(context.Background(), "pick", map[string]any{"color": "green"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDispatchReturnsHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register(Definition{Name: "fail"}, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, boom
	}))

	_, err := r.Dispatch(context.Background(), "fail", nil)
	assert.ErrorIs(t, err, boom)
}
