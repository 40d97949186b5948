// Package circuitbreaker wraps sony/gobreaker with the settings used for
// outbound provider calls.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name             string
	MaxHalfOpen      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxHalfOpen:      1,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// New builds a breaker. isSuccessful decides which errors count as failures;
// nil means every error trips.
func New[T any](cfg Config, log *slog.Logger, isSuccessful func(error) bool) *Breaker[T] {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpen,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
		IsSuccessful: isSuccessful,
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](st)}
}

func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, ErrOpen
	}
	return v, err
}

func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}
