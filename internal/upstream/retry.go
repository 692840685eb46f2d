package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy is a reusable backoff policy. RetryOn decides, from the
// response (may be nil) and transport error, whether another attempt is
// worthwhile.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	RetryOn       func(resp *http.Response, err error) bool
}

// RetryTransient is the TTS fan-out predicate: 5xx, 429 or transport error.
func RetryTransient(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// Do runs fn with up to MaxRetries additional attempts. A response rejected
// by RetryOn has its body drained and closed before the next attempt; the
// final response is returned to the caller unread. Upstream Retry-After
// hints override the computed backoff when longer.
func (p RetryPolicy) Do(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	delay := p.InitialDelay
	var resp *http.Response
	var err error

	for attempt := 0; ; attempt++ {
		resp, err = fn()
		if !p.RetryOn(resp, err) || attempt >= p.MaxRetries {
			return resp, err
		}

		wait := delay
		if resp != nil {
			if hinted := ParseRetryDelay(resp); hinted > wait {
				wait = hinted
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * p.BackoffFactor)
	}
}

// retryInfo is the structured error Google attaches to 429 responses.
type retryInfo struct {
	Error struct {
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"` // e.g. "3.5s"
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts a retry hint from a throttled response: the
// standard Retry-After header first, then Google's RetryInfo detail. The
// body is restored after reading so it can still be forwarded. Returns 0
// when no hint is present.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			return time.Until(t)
		}
	}

	if resp.Body == nil {
		return 0
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0
	}
	resp.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))

	var info retryInfo
	if err := json.Unmarshal(bodyBytes, &info); err != nil {
		return 0
	}
	for _, detail := range info.Error.Details {
		if detail.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(detail.RetryDelay); err == nil {
			return dur
		}
	}
	return 0
}
