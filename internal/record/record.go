// Package record defines the source-agnostic content record shared by fetchers,
// enrichment and persistence. Source-specific fields stay inside Metadata and
// never leak into the rest of the pipeline.
package record

import (
	"strings"
	"time"
)

type Record struct {
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	URL         string         `json:"url"`
	Author      string         `json:"author"`
	PublishedAt time.Time      `json:"published_at"`
	SourceType  string         `json:"source_type"`
	SourceName  string         `json:"source_name"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	SentimentLabel string   `json:"sentiment_label,omitempty"`
	SentimentScore float64  `json:"sentiment_score,omitempty"`
	Entities       []string `json:"entities,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// Validate reports whether the record carries the minimum fields required
// for storage. Invalid records are filtered out by the fetch path, never
// escalated as errors.
func (r *Record) Validate() bool {
	if r.ExternalID == "" {
		return false
	}
	if strings.TrimSpace(r.Title) == "" {
		return false
	}
	if r.SourceType == "" {
		return false
	}
	if r.PublishedAt.IsZero() {
		return false
	}

	return true
}

// MergeFrom overwrites the mutable fields of an already stored record with
// the freshly fetched values. The field list here is the contract for what
// an upsert may change; identity fields (external ID, source type) are
// deliberately left alone.
func (r *Record) MergeFrom(src *Record) {
	r.Title = src.Title
	r.Content = src.Content
	r.URL = src.URL
	r.Author = src.Author
	r.PublishedAt = src.PublishedAt
	r.SourceName = src.SourceName
	r.Metadata = src.Metadata
	r.SentimentLabel = src.SentimentLabel
	r.SentimentScore = src.SentimentScore
	r.Entities = src.Entities
	r.Keywords = src.Keywords
}
