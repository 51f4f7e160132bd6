package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/feedpulse/feedpulse/internal/record"
	"github.com/feedpulse/feedpulse/internal/source"
)

// jsonFeedFetcher pulls a JSON array of items from an HTTP feed and maps
// the conventional field names onto unified records. Anything feed-specific
// beyond the URL and query parameters belongs in a dedicated fetcher.
type jsonFeedFetcher struct {
	name       string
	sourceType string
	feedURL    string
	client     *http.Client
}

func newJSONFeedFetcher(name, sourceType, feedURL string) *jsonFeedFetcher {
	return &jsonFeedFetcher{
		name:       name,
		sourceType: sourceType,
		feedURL:    feedURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *jsonFeedFetcher) Name() string {
	return f.name
}

func (f *jsonFeedFetcher) Fetch(ctx context.Context, params source.Params) ([]source.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	for key, value := range params {
		q.Set(key, fmt.Sprint(value))
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &source.APIError{Source: f.name, Message: err.Error()}
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &source.RateLimitError{
			Source:     f.name,
			RetryAfter: retryAfter(resp),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &source.APIError{
			Source:     f.name,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &source.APIError{Source: f.name, Message: err.Error()}
	}

	var items []source.RawItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("invalid feed payload from %s: %w", f.name, err)
	}

	return items, nil
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return time.Minute
	}

	return time.Duration(seconds) * time.Second
}

func (f *jsonFeedFetcher) Transform(items []source.RawItem) []record.Record {
	records := make([]record.Record, 0, len(items))
	for _, item := range items {
		rec := record.Record{
			ExternalID: str(item["id"]),
			Title:      str(item["title"]),
			Content:    str(item["content"]),
			URL:        str(item["url"]),
			Author:     str(item["author"]),
			SourceType: f.sourceType,
			SourceName: f.name,
		}

		if published, err := time.Parse(time.RFC3339, str(item["published_at"])); err == nil {
			rec.PublishedAt = published
		}
		if metadata, ok := item["metadata"].(map[string]any); ok {
			rec.Metadata = metadata
		}

		records = append(records, rec)
	}

	return records
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
