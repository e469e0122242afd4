package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/movesec/moveaudit/internal/domain/analysis"
	"github.com/movesec/moveaudit/internal/infra/ai/prompt"
)

const defaultModel = "o3-2025-04-16"

// Token budgets per call shape. Detection replies are the largest, quality
// replies are a single number plus a sentence.
const (
	detectMaxTokens    = 2000
	recommendMaxTokens = 1500
	qualityMaxTokens   = 500
	analysisTemp       = 0.1
)

type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

func (c *Client) ProviderName() string { return "openai" }
func (c *Client) ModelName() string    { return c.Model }

// AnalyzeCode issues one JSON-mode chat completion.
func (c *Client) AnalyzeCode(ctx context.Context, p analysis.Prompt) (analysis.Completion, error) {
	userContent := p.Text
	if p.CodeContext != "" {
		userContent = p.CodeContext + "\n\n" + p.Text
	}
	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: p.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	}

	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = detectMaxTokens
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(c.Model, "o1") || strings.HasPrefix(c.Model, "o3") || strings.HasPrefix(c.Model, "o4") || strings.HasPrefix(c.Model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return analysis.Completion{}, fmt.Errorf("chat completion: %w", analysis.ErrQuotaExceeded)
		}
		return analysis.Completion{}, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return analysis.Completion{}, &analysis.ProviderError{Message: "completion returned no choices"}
	}

	return analysis.Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// DetectVulnerabilities asks the model to review one file.
func (c *Client) DetectVulnerabilities(ctx context.Context, code, filePath string) (*analysis.CodeAnalysis, error) {
	completion, err := c.AnalyzeCode(ctx, analysis.Prompt{
		Text:        prompt.Vulnerability(code, filePath),
		MaxTokens:   detectMaxTokens,
		Temperature: analysisTemp,
	})
	if err != nil {
		return nil, err
	}
	return prompt.ParseCodeAnalysis(completion.Content, filePath)
}

// GenerateRecommendations asks the model for remediation guidance over the
// already-detected findings.
func (c *Client) GenerateRecommendations(ctx context.Context, code string, findings []analysis.Finding) ([]analysis.Recommendation, error) {
	completion, err := c.AnalyzeCode(ctx, analysis.Prompt{
		Text:        prompt.Recommendations(code, findings),
		MaxTokens:   recommendMaxTokens,
		Temperature: analysisTemp,
	})
	if err != nil {
		return nil, err
	}
	return prompt.ParseRecommendations(completion.Content)
}

// AssessCodeQuality asks the model for a 0-100 quality score.
func (c *Client) AssessCodeQuality(ctx context.Context, code string) (float64, error) {
	completion, err := c.AnalyzeCode(ctx, analysis.Prompt{
		Text:        prompt.Quality(code),
		MaxTokens:   qualityMaxTokens,
		Temperature: analysisTemp,
	})
	if err != nil {
		return 0, err
	}
	return prompt.ParseQualityScore(completion.Content)
}
