package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/feedpulse/feedpulse/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSentiment struct {
	result Sentiment
	err    error
}

func (s *stubSentiment) Analyze(_ context.Context, _ string) (Sentiment, error) {
	return s.result, s.err
}

type stubEntities struct {
	result []string
	err    error
}

func (s *stubEntities) Entities(_ context.Context, _ string) ([]string, error) {
	return s.result, s.err
}

type stubKeywords struct {
	result []string
	err    error
}

func (s *stubKeywords) Keywords(_ context.Context, _ string) ([]string, error) {
	return s.result, s.err
}

func TestEnrich(t *testing.T) {
	e := New(
		&stubSentiment{result: Sentiment{Label: "positive", Score: 0.8}},
		&stubEntities{result: []string{"Go"}},
		&stubKeywords{result: []string{"release", "performance"}},
	)

	r := &record.Record{ExternalID: "a", Title: "Go is fast"}
	require.NoError(t, e.Enrich(context.Background(), r))

	assert.Equal(t, "positive", r.SentimentLabel)
	assert.Equal(t, 0.8, r.SentimentScore)
	assert.Equal(t, []string{"Go"}, r.Entities)
	assert.Equal(t, []string{"release", "performance"}, r.Keywords)
}

func TestEnrichSentimentFailureIsError(t *testing.T) {
	e := New(&stubSentiment{err: errors.New("model unavailable")}, nil, nil)

	r := &record.Record{ExternalID: "a", Title: "title"}
	err := e.Enrich(context.Background(), r)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentiment analysis failed")
}

func TestEnrichBestEffortFailuresAreNotErrors(t *testing.T) {
	e := New(
		&stubSentiment{result: Sentiment{Label: "neutral", Score: 0.5}},
		&stubEntities{err: errors.New("ner down")},
		&stubKeywords{err: errors.New("extractor down")},
	)

	r := &record.Record{ExternalID: "a", Title: "title"}
	require.NoError(t, e.Enrich(context.Background(), r))

	assert.Equal(t, "neutral", r.SentimentLabel)
	assert.Nil(t, r.Entities)
	assert.Nil(t, r.Keywords)
}

func TestEnrichWithoutAnalyzer(t *testing.T) {
	e := New(nil, nil, nil)

	err := e.Enrich(context.Background(), &record.Record{ExternalID: "a", Title: "t"})
	assert.Error(t, err)
}
