package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// errServerStatus marks a 5xx response as a breaker failure while still
// handing the response back to the caller.
var errServerStatus = errors.New("server error status")

// Settings configures the guarded round tripper.
type Settings struct {
	Name              string
	RequestsPerSecond float64 // <= 0 disables pacing
	Burst             int
	BreakerFailures   uint32 // consecutive failures before opening; 0 disables the breaker
	BreakerTimeout    time.Duration
}

// Guarded paces outgoing requests and stops hammering a host that keeps
// failing. It never retries.
type Guarded struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Entry
}

// New wraps next (http.DefaultTransport when nil).
func New(next http.RoundTripper, s Settings, logger *logrus.Entry) *Guarded {
	if next == nil {
		next = http.DefaultTransport
	}

	g := &Guarded{next: next, logger: logger}

	if s.RequestsPerSecond > 0 {
		burst := s.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), burst)
	}

	if s.BreakerFailures > 0 {
		timeout := s.BreakerTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		failures := s.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    s.Name,
			Timeout: timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		})
	}

	return g
}

// RoundTrip implements http.RoundTripper.
func (g *Guarded) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if g.breaker == nil {
		return g.next.RoundTrip(req)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})

	resp, _ := out.(*http.Response)
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.WithFields(logrus.Fields{
				"host":  req.URL.Host,
				"state": g.State().String(),
			}).Warn("Request rejected by circuit breaker")
		}
		return nil, err
	}
	return resp, nil
}

// State exposes the breaker state for diagnostics. Without a breaker it
// always reports closed.
func (g *Guarded) State() gobreaker.State {
	if g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

// NewClient builds an http.Client that never follows redirects on its own;
// callers that need redirects walk the Location chain themselves.
func NewClient(rt http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
