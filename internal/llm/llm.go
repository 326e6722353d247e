// Package llm implements the workflow analyst on the Anthropic Messages API.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/opsassist/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

// Client wraps the Anthropic API for metrics analysis, plan generation,
// conversation and execution re-analysis.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model. Extra
// request options (base URL, retries) are passed through to the SDK.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// complete sends one system+user exchange and returns the first text block.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// extractJSON returns the JSON object embedded in an LLM reply: fenced,
// bare, or surrounded by prose.
func extractJSON(text string) string {
	text = stripFences(text)
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// Analyze asks the model for a structured verdict on the current metrics.
func (c *Client) Analyze(ctx context.Context, req models.AnalysisRequest) (models.Analysis, error) {
	system, user := buildAnalyzePrompt(req)
	text, err := c.complete(ctx, system, user, 2048)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	a, err := parseAnalysis(text)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	return a, nil
}

// GeneratePlans asks the model for fix plans addressing the analysis.
func (c *Client) GeneratePlans(ctx context.Context, req models.AnalysisRequest, analysis models.Analysis) ([]models.FixPlan, error) {
	system, user := buildPlanPrompt(req, analysis)
	text, err := c.complete(ctx, system, user, 4096)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	plans, err := parsePlans(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	return plans, nil
}

// Chat answers a conversational query in plain text.
func (c *Client) Chat(ctx context.Context, query string, history []models.ConversationTurn, snap *models.MetricsSnapshot) (string, error) {
	system, user := buildChatPrompt(query, history, snap)
	text, err := c.complete(ctx, system, user, 1024)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	return strings.TrimSpace(text), nil
}

// Reanalyze reviews an execution's output and proposes follow-up plans that
// use the concrete values (PIDs, paths) the commands revealed.
func (c *Client) Reanalyze(ctx context.Context, plan models.FixPlan, result models.ExecutionResult) ([]models.FixPlan, error) {
	system, user := buildReanalyzePrompt(plan, result)
	text, err := c.complete(ctx, system, user, 4096)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	plans, err := parsePlans(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	return plans, nil
}
