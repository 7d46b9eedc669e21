// Package review classifies review-session output into a verdict and builds
// the prompts that review sessions run with. Verdict detection from agent
// prose is inherently heuristic, so it lives behind the Classifier interface
// with a phrase matcher as the default and an LLM classifier as the
// higher-fidelity option.
package review

import (
	"context"
	"strings"
)

// Verdict is the outcome of classifying review output.
type Verdict string

const (
	VerdictApproved         Verdict = "approved"
	VerdictChangesRequested Verdict = "changes_requested"
	VerdictUnknown          Verdict = "unknown"
)

// Classifier decides the verdict carried by a review session's final text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Default phrase sets. Not exhaustive; providers word verdicts differently,
// which is why the classifier is swappable.
var (
	defaultNegativePhrases = []string{
		"changes requested",
		"changes required",
		"request changes",
		"needs changes",
		"needs work",
		"does not pass",
		"review failed",
		"verdict: fail",
		"\"verdict\": \"fail\"",
	}
	defaultPositivePhrases = []string{
		"approved",
		"looks good",
		"lgtm",
		"review passed",
		"verdict: pass",
		"\"verdict\": \"pass\"",
	}
)

// PhraseClassifier matches known verdict phrases case-insensitively.
// Negative phrases win over positive ones: a review that says "approved once
// the requested changes land" still requests changes.
type PhraseClassifier struct {
	Negative []string
	Positive []string
}

// NewPhraseClassifier returns a classifier with the default phrase sets.
func NewPhraseClassifier() *PhraseClassifier {
	return &PhraseClassifier{
		Negative: defaultNegativePhrases,
		Positive: defaultPositivePhrases,
	}
}

func (c *PhraseClassifier) Classify(_ context.Context, text string) (Verdict, error) {
	lower := strings.ToLower(text)
	for _, phrase := range c.Negative {
		if strings.Contains(lower, phrase) {
			return VerdictChangesRequested, nil
		}
	}
	for _, phrase := range c.Positive {
		if strings.Contains(lower, phrase) {
			return VerdictApproved, nil
		}
	}
	return VerdictUnknown, nil
}
