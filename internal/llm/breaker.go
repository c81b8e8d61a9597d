package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the provider has failed repeatedly and
// calls are rejected without reaching it.
var ErrCircuitOpen = errors.New("llm: circuit open")

// BreakerClient guards stream initiation with a circuit breaker. Errors
// after the stream has started do not trip it.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[Stream]
}

func NewBreakerClient(inner Client, name string, maxFailures uint32, timeout time.Duration, logger *slog.Logger) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker[Stream](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerClient{inner: inner, breaker: cb}
}

func (b *BreakerClient) Stream(ctx context.Context, req Request) (Stream, error) {
	s, err := b.breaker.Execute(func() (Stream, error) {
		return b.inner.Stream(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return s, err
}
