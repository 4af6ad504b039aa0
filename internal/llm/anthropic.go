package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aiopscore/remediator/internal/domain"
)

// AnthropicEnricher calls the Anthropic Messages API directly to rewrite a
// hypothesis's narrative.
type AnthropicEnricher struct {
	client anthropic.Client
	model  string
}

// NewAnthropicEnricher builds an Enricher backed by the Anthropic SDK. The
// API key is read from ANTHROPIC_API_KEY when apiKey is empty.
func NewAnthropicEnricher(apiKey, model string) *AnthropicEnricher {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &AnthropicEnricher{client: anthropic.NewClient(opts...), model: model}
}

func (e *AnthropicEnricher) Enrich(ctx context.Context, incident domain.Incident, hypothesis domain.Hypothesis) (domain.Hypothesis, error) {
	prompt := enrichmentPrompt(incident, hypothesis)

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: enrichmentSystemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return domain.Hypothesis{}, fmt.Errorf("anthropic enrichment call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseEnrichment(hypothesis, text.String())
}

const enrichmentSystemPrompt = "You rewrite the title and description of a candidate incident root-cause hypothesis for a human on-call engineer. Respond with JSON only: {\"title\": ..., \"description\": ...}. Do not change the underlying diagnosis."

func enrichmentPrompt(incident domain.Incident, h domain.Hypothesis) string {
	return fmt.Sprintf(
		"Incident %q (service=%s, namespace=%s) has a candidate root cause of category %q with title %q and description %q. Rewrite the title and description to be clearer for an on-call engineer, without changing the diagnosis.",
		incident.Title, incident.Service, incident.Namespace, h.Category, h.Title, h.Description,
	)
}

type enrichmentResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func parseEnrichment(original domain.Hypothesis, raw string) (domain.Hypothesis, error) {
	var parsed enrichmentResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return domain.Hypothesis{}, fmt.Errorf("parse enrichment response: %w", err)
	}
	if parsed.Title == "" || parsed.Description == "" {
		return domain.Hypothesis{}, fmt.Errorf("enrichment response missing title or description")
	}
	result := original
	result.Title = parsed.Title
	result.Description = parsed.Description
	return result, nil
}

// extractJSON trims any prose surrounding a single JSON object, since
// models occasionally wrap the object in a sentence despite instructions.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
