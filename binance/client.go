// Package binance is a minimal REST client for the Binance USDT-M futures
// public endpoints the monitor polls. No API key is required; all endpoints
// are public market data.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

const (
	maxAttempts    = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	requestTimeout = 15 * time.Second
)

// ErrBanned is returned on HTTP 403: the exchange has blocked this IP and
// retrying would only extend the ban.
var ErrBanned = errors.New("binance: IP banned (HTTP 403)")

// stringFloat decodes the numeric strings Binance uses in JSON payloads
type stringFloat float64

func (f *stringFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// some fields arrive as bare numbers
		var n float64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return err
		}
		*f = stringFloat(n)
		return nil
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %q: %w", s, err)
	}
	*f = stringFloat(n)
	return nil
}

// Client calls the futures REST API with bounded retries and a circuit
// breaker shared across all endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a futures REST client rooted at baseURL
// (normally https://fapi.binance.com).
func NewClient(baseURL string) *Client {
	settings := gobreaker.Settings{
		Name:    "binance-fapi",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("⚡ Circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// errAbsent marks HTTP 404, surfaced to callers as (nil data, nil error)
var errAbsent = errors.New("binance: not found")

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// get fetches path with retries and decodes the JSON body into dest
func (c *Client) get(ctx context.Context, path string, dest interface{}) error {
	url := c.baseURL + path

	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, url)
		})
		if err == nil {
			return json.Unmarshal(body.([]byte), dest)
		}
		if errors.Is(err, ErrBanned) || errors.Is(err, errAbsent) || ctx.Err() != nil {
			return err
		}

		var re *retryError
		if !errors.As(err, &re) {
			// breaker open or transport failure: back off and retry
			lastErr = err
		} else {
			lastErr = re
		}

		wait := backoff
		if re != nil && re.retryAfter > 0 {
			wait = re.retryAfter
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return fmt.Errorf("GET %s failed after %d attempts: %w", path, maxAttempts, lastErr)
}

// retryError carries a server-suggested wait from a Retry-After header
type retryError struct {
	status     int
	retryAfter time.Duration
}

func (e *retryError) Error() string {
	return fmt.Sprintf("binance: HTTP %d", e.status)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrBanned
	case resp.StatusCode == http.StatusNotFound:
		return nil, errAbsent
	case retryable(resp.StatusCode):
		re := &retryError{status: resp.StatusCode}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				re.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, re
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("binance: HTTP %d: %s", resp.StatusCode, string(body))
	}
}
