// Package source defines the contract every upstream data source implements
// and the error taxonomy the pipeline uses to decide what is retryable.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/feedpulse/feedpulse/internal/record"
)

// RawItem is one untransformed item as returned by an upstream API.
type RawItem map[string]any

// Params carries source-specific fetch parameters such as a subreddit name,
// search query or item limit.
type Params map[string]any

// Fetcher is implemented once per upstream.
//
// Fetch returns the raw upstream items or an APIError/RateLimitError.
// Transform converts raw items to unified records; items that cannot be
// transformed are dropped, never fatal.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, params Params) ([]RawItem, error)
	Transform(items []RawItem) []record.Record
}

// APIError reports a non-2xx response or protocol failure from an upstream.
type APIError struct {
	Source     string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("source %s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// RateLimitError reports explicit upstream throttling (HTTP 429 or equivalent).
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("source %s rate limited (retry after %s)", e.Source, e.RetryAfter)
}

// IsRetryable reports whether a fetch error is worth another attempt.
// Server-side failures, throttling and network errors are transient;
// client errors such as a bad request are not.
func IsRetryable(err error) bool {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 0 || apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// FetchAndTransform fetches, transforms and validate-filters in one call.
// Partial data loss (untransformable or invalid items) is logged and
// counted, never an error; only a total fetch failure is returned.
func FetchAndTransform(ctx context.Context, f Fetcher, params Params) ([]record.Record, error) {
	raw, err := f.Fetch(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		log.Printf("Source %s returned no items", f.Name())
		return nil, nil
	}

	transformed := f.Transform(raw)
	if dropped := len(raw) - len(transformed); dropped > 0 {
		log.Printf("Source %s dropped %d untransformable items", f.Name(), dropped)
	}

	valid := transformed[:0]
	for i := range transformed {
		if transformed[i].Validate() {
			valid = append(valid, transformed[i])
		}
	}
	if filtered := len(transformed) - len(valid); filtered > 0 {
		log.Printf("Source %s filtered %d invalid records", f.Name(), filtered)
	}

	return valid, nil
}
