package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const classifySystemPrompt = `You classify the final output of an automated code review agent.
Respond with exactly one word:
- "approved" if the review passed with no changes required
- "changes_requested" if the review asks for any changes or reports failures
- "unknown" if the text carries no review verdict at all
No other output.`

// LLMClassifier asks an Anthropic model for the verdict. More robust to
// wording variation than phrase matching, at the cost of a network call.
type LLMClassifier struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewLLMClassifier creates a classifier using the given API key and model.
// An empty key falls back to the SDK's environment-based configuration.
func NewLLMClassifier(apiKey, model string) *LLMClassifier {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &LLMClassifier{
		api:   &client,
		model: anthropic.Model(model),
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return VerdictUnknown, nil
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 16,
		System: []anthropic.TextBlockParam{
			{Text: classifySystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return VerdictUnknown, fmt.Errorf("anthropic API call: %w", err)
	}

	var answer string
	for _, block := range msg.Content {
		if block.Type == "text" {
			answer = block.Text
			break
		}
	}

	switch strings.TrimSpace(strings.ToLower(answer)) {
	case "approved":
		return VerdictApproved, nil
	case "changes_requested":
		return VerdictChangesRequested, nil
	default:
		return VerdictUnknown, nil
	}
}
