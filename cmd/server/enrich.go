package main

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/feedpulse/feedpulse/internal/enrich"
)

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "love": true,
	"best": true, "amazing": true, "fast": true, "win": true,
	"improved": true, "success": true,
}

var negativeWords = map[string]bool{
	"bad": true, "worst": true, "hate": true, "slow": true,
	"broken": true, "bug": true, "fail": true, "crash": true,
	"regression": true, "vulnerability": true,
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"with": true, "is": true, "are": true, "was": true, "it": true,
	"this": true, "that": true, "at": true, "by": true, "from": true,
}

// lexiconSentiment scores text against small positive/negative word lists.
type lexiconSentiment struct{}

func (lexiconSentiment) Analyze(_ context.Context, text string) (enrich.Sentiment, error) {
	positive, negative := 0, 0
	for _, word := range tokenize(text) {
		if positiveWords[word] {
			positive++
		}
		if negativeWords[word] {
			negative++
		}
	}

	total := positive + negative
	if total == 0 {
		return enrich.Sentiment{Label: "neutral", Score: 0.5}, nil
	}

	// Hits map onto [0, 1] with 0.5 as neutral.
	score := 0.5 + float64(positive-negative)/float64(total)/2
	label := "neutral"
	switch {
	case score > 0.6:
		label = "positive"
	case score < 0.4:
		label = "negative"
	}

	return enrich.Sentiment{Label: label, Score: score}, nil
}

// capitalizedEntities treats capitalized tokens past the first word of a
// sentence as named entities.
type capitalizedEntities struct{}

func (capitalizedEntities) Entities(_ context.Context, text string) ([]string, error) {
	seen := make(map[string]bool)
	var entities []string

	startOfSentence := true
	for field := range strings.FieldsSeq(text) {
		word := strings.Trim(field, ".,:;!?\"'()[]")
		if word == "" {
			continue
		}

		first := []rune(word)[0]
		if unicode.IsUpper(first) && !startOfSentence && !seen[word] {
			seen[word] = true
			entities = append(entities, word)
		}

		startOfSentence = strings.ContainsAny(field, ".!?")
		if len(entities) == 10 {
			break
		}
	}

	return entities, nil
}

// frequencyKeywords returns the five most frequent non-stopword tokens.
type frequencyKeywords struct{}

func (frequencyKeywords) Keywords(_ context.Context, text string) ([]string, error) {
	counts := make(map[string]int)
	for _, word := range tokenize(text) {
		if len(word) < 4 || stopWords[word] {
			continue
		}
		counts[word]++
	}

	keywords := make([]string, 0, len(counts))
	for word := range counts {
		keywords = append(keywords, word)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > 5 {
		keywords = keywords[:5]
	}

	return keywords, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
