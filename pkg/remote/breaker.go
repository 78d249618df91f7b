package remote

import (
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var ErrServiceUnavailable = errors.New("service unavailable")

type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// Breaker wraps a Doer with a circuit breaker. Transport errors and 5xx
// responses count as failures; while open, requests fail fast with
// ErrServiceUnavailable.
type Breaker struct {
	name string
	next Doer
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next Doer, s BreakerSettings, logger *log.Logger) *Breaker {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("component", "breaker", "service", name)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < s.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= s.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("Breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Breaker{name: name, next: next, cb: cb}
}

type serverError struct{ status int }

func (e serverError) Error() string { return fmt.Sprintf("server error: %d", e.status) }

func (b *Breaker) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	_, err := b.cb.Execute(func() (interface{}, error) {
		r, err := b.next.Do(req)
		if err != nil {
			return nil, err
		}
		resp = r
		if r.StatusCode >= 500 {
			return nil, serverError{r.StatusCode}
		}
		return nil, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s: %w", b.name, ErrServiceUnavailable)
	case errors.As(err, new(serverError)):
		// the caller still gets the response so it can report the status
		return resp, nil
	case err != nil:
		return nil, err
	}
	return resp, nil
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}
