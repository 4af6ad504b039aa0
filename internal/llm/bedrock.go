package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/aiopscore/remediator/internal/domain"
)

// BedrockEnricher calls a Claude model through the AWS Bedrock Runtime API,
// for deployments that route LLM traffic through AWS instead of calling
// Anthropic directly.
type BedrockEnricher struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockEnricher loads the default AWS config (environment, shared
// config file, or instance role) and targets modelID.
func NewBedrockEnricher(ctx context.Context, modelID string) (*BedrockEnricher, error) {
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config for bedrock: %w", err)
	}
	return &BedrockEnricher{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	System           string                   `json:"system"`
	Messages         []bedrockAnthropicMessage `json:"messages"`
}

type bedrockAnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (e *BedrockEnricher) Enrich(ctx context.Context, incident domain.Incident, hypothesis domain.Hypothesis) (domain.Hypothesis, error) {
	reqBody, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        512,
		System:           enrichmentSystemPrompt,
		Messages: []bedrockAnthropicMessage{
			{Role: "user", Content: enrichmentPrompt(incident, hypothesis)},
		},
	})
	if err != nil {
		return domain.Hypothesis{}, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		return domain.Hypothesis{}, fmt.Errorf("bedrock enrichment call failed: %w", err)
	}

	var resp bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return domain.Hypothesis{}, fmt.Errorf("unmarshal bedrock response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return parseEnrichment(hypothesis, text)
}
