package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ClientConfig holds HTTP client configuration for talking to a server.
type ClientConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// The breaker opens once FailureRatio of at least MinRequests calls
	// failed, and stays open for BreakerTimeout.
	MinRequests    uint32
	FailureRatio   float64
	BreakerTimeout time.Duration
}

// DefaultClientConfig returns the defaults used by `squash push`.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        2 * time.Minute,
		MaxRetries:     3,
		RetryWaitMin:   500 * time.Millisecond,
		RetryWaitMax:   5 * time.Second,
		MinRequests:    3,
		FailureRatio:   0.5,
		BreakerTimeout: 30 * time.Second,
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls to the server.
var ErrCircuitOpen = gobreaker.ErrOpenState

// requestFunc builds a fresh request for every attempt so bodies can be
// replayed.
type requestFunc func(ctx context.Context) (*http.Request, error)

// Client wraps http.Client with retries and a circuit breaker.
type Client struct {
	httpClient *http.Client
	config     ClientConfig
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a Client. State changes of the breaker go to logger.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "squash-server",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Do sends the request built by build, retrying network errors and
// transient statuses with exponential backoff. Server errors that survive
// the retries are returned as errors and count against the breaker.
func (c *Client) Do(ctx context.Context, build requestFunc) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.doWithRetry(ctx, build)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, serverError(resp)
		}
		return resp, nil
	})
}

func (c *Client) doWithRetry(ctx context.Context, build requestFunc) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			wait := c.config.RetryWaitMin * time.Duration(1<<uint(attempt-1))
			if wait > c.config.RetryWaitMax {
				wait = c.config.RetryWaitMax
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isRetryableError(ctx, err) && attempt < c.config.MaxRetries {
				continue
			}
			return nil, fmt.Errorf("http request failed after %d attempts: %w", attempt+1, err)
		}

		if retryableStatus(resp.StatusCode) && attempt < c.config.MaxRetries {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
}

// retryableStatus covers throttling and gateway errors. A plain 500 from
// the server is a failed compression and is not retried.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
