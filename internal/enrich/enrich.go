// Package enrich computes sentiment, named entities and keywords for unified
// records. The concrete algorithms are pluggable; this package owns the
// policy of which enrichments are required and which are best-effort.
package enrich

import (
	"context"
	"fmt"
	"log"

	"github.com/feedpulse/feedpulse/internal/record"
)

type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type SentimentAnalyzer interface {
	Analyze(ctx context.Context, text string) (Sentiment, error)
}

type EntityExtractor interface {
	Entities(ctx context.Context, text string) ([]string, error)
}

type KeywordExtractor interface {
	Keywords(ctx context.Context, text string) ([]string, error)
}

// Enricher runs the configured enrichment set over a record. Sentiment is
// required; entity and keyword extraction are best-effort and their
// failures only produce a log line.
type Enricher struct {
	sentiment SentimentAnalyzer
	entities  EntityExtractor
	keywords  KeywordExtractor
}

func New(sentiment SentimentAnalyzer, entities EntityExtractor, keywords KeywordExtractor) *Enricher {
	return &Enricher{
		sentiment: sentiment,
		entities:  entities,
		keywords:  keywords,
	}
}

// Enrich fills the enrichment fields of r in place. A non-nil error means
// the record failed enrichment and should be counted as failed; it never
// means the whole run must stop.
func (e *Enricher) Enrich(ctx context.Context, r *record.Record) error {
	text := r.Title
	if r.Content != "" {
		text = r.Title + "\n" + r.Content
	}

	if e.sentiment == nil {
		return fmt.Errorf("no sentiment analyzer configured")
	}

	sentiment, err := e.sentiment.Analyze(ctx, text)
	if err != nil {
		return fmt.Errorf("sentiment analysis failed for %s: %w", r.ExternalID, err)
	}
	r.SentimentLabel = sentiment.Label
	r.SentimentScore = sentiment.Score

	if e.entities != nil {
		entities, err := e.entities.Entities(ctx, text)
		if err != nil {
			log.Printf("Entity extraction failed for %s: %v", r.ExternalID, err)
		} else {
			r.Entities = entities
		}
	}

	if e.keywords != nil {
		keywords, err := e.keywords.Keywords(ctx, text)
		if err != nil {
			log.Printf("Keyword extraction failed for %s: %v", r.ExternalID, err)
		} else {
			r.Keywords = keywords
		}
	}

	return nil
}
