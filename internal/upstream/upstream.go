package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-assistant/internal/common"
)

// BackoffConfig controls exponential backoff behaviour. MaxRetries of zero
// means a single attempt.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config bundles HTTP client and resilience settings.
type Config struct {
	Client    *http.Client
	Backoff   BackoffConfig
	UserAgent string
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// Client executes requests against one upstream with a circuit breaker and
// optional capped exponential backoff.
type Client struct {
	name    string
	cfg     Config
	circuit *gobreaker.CircuitBreaker
}

// New creates a Client named after the upstream it talks to.
func New(name string, cfg Config) *Client {
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff.InitialInterval = 500 * time.Millisecond
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Bad queries are the caller's fault and must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, common.ErrInvalidQuery)
		},
	})

	return &Client{name: name, cfg: cfg, circuit: cb}
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.name
}

// Do executes the request built by buildRequest. On success the caller owns
// the response body. Errors wrap common.ErrInvalidQuery for 400/404/422
// answers and common.ErrUpstreamUnavailable for everything else.
func (c *Client) Do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.cfg.Client == nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, errNoHTTPClient)
	}
	if c.cfg.Backoff.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, errInvalidConfig)
	}

	var attempt int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, err
		}
		if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			drain(resp)
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			case resp.StatusCode == http.StatusBadRequest ||
				resp.StatusCode == http.StatusNotFound ||
				resp.StatusCode == http.StatusUnprocessableEntity:
				return nil, fmt.Errorf("%w: %s answered %d", common.ErrInvalidQuery, c.name, resp.StatusCode)
			default:
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected result type from circuit breaker", common.ErrUpstreamUnavailable)
			}
			return resp, nil
		}

		if errors.Is(err, common.ErrInvalidQuery) {
			return nil, err
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v: %v", common.ErrUpstreamUnavailable, c.name, errCircuitOpen, err)
		}

		if attempt >= c.cfg.Backoff.MaxRetries {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrUpstreamUnavailable, c.name, err)
		}

		timer := time.NewTimer(c.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

// GetJSON issues a GET to rawURL and decodes the JSON answer into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out interface{}) error {
	return c.SendJSON(ctx, http.MethodGet, rawURL, nil, nil, out)
}

// SendJSON issues a request with an optional JSON body and decodes the JSON
// answer into out (when out is non-nil).
func (c *Client) SendJSON(ctx context.Context, method, rawURL string, header http.Header, in, out interface{}) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.name, err)
		}
		payload = b
	}

	resp, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", common.ErrUpstreamUnavailable, c.name, err)
	}
	return nil
}

func (c *Client) delay(attempt int) time.Duration {
	d := c.cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
	if c.cfg.Backoff.MaxInterval > 0 && d > c.cfg.Backoff.MaxInterval {
		d = c.cfg.Backoff.MaxInterval
	}
	return d
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
