package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mailcraft/server/internal/infra/config"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// New creates a new HTTP client with the given configuration.
func New(cfg config.HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

// ErrUpstreamUnavailable is returned while the breaker for an upstream is open.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// BreakerSettings configures WithBreaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

type breakerTransport struct {
	next    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// WithBreaker returns a copy of client whose transport trips after
// FailureThreshold consecutive transport errors or 5xx responses.
func WithBreaker(client *http.Client, s BreakerSettings, logger *zap.Logger) *http.Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("http breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	wrapped := *client
	wrapped.Transport = &breakerTransport{next: next, breaker: cb}
	return &wrapped
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var upstream *http.Response
	_, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		upstream = resp
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if upstream != nil {
		return upstream, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, t.breaker.Name())
	}
	return nil, err
}
