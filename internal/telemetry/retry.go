package telemetry

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig defines retry behavior for metric exports
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP status codes that should be retried
}

// DefaultRetryConfig retries rate limits and server errors a few times.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: []int{429, 500, 502, 503, 504},
	}
}

// retryingClient posts a payload with exponential backoff.
type retryingClient struct {
	client *http.Client
	retry  RetryConfig
}

// Post sends body to url, rebuilding the request for every attempt.
func (c *retryingClient) Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.client.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case c.shouldRetry(resp.StatusCode) && attempt < c.retry.MaxRetries:
			resp.Body.Close()
			lastErr = nil
		default:
			return resp, nil
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		delay := c.delay(attempt)
		log.Debug().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_retries", c.retry.MaxRetries).
			Dur("delay", delay).
			Str("url", url).
			Msg("metric export failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *retryingClient) shouldRetry(statusCode int) bool {
	for _, code := range c.retry.RetryableErrors {
		if statusCode == code {
			return true
		}
	}
	return false
}

// delay is the exponential backoff for attempt with ±25% jitter, capped at MaxDelay.
func (c *retryingClient) delay(attempt int) time.Duration {
	delay := float64(c.retry.InitialDelay) * math.Pow(c.retry.BackoffFactor, float64(attempt))
	delay += delay * 0.25 * (2*rand.Float64() - 1)
	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	return time.Duration(delay)
}
