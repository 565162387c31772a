package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

const systemPrompt = "You score remediation strategies for production incidents. " +
	"Answer only with a JSON object of the form " +
	`{"strategy_scores":{"<name>":<0..1>},"strategy_explanations":{"<name>":"<one sentence>"}}` +
	" using exactly the candidate strategy names you are given."

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient asks a chat completion model to score the candidate strategies.
type OpenAIClient struct {
	client     chatCompleter
	model      string
	candidates CandidateLister
	logger     *slog.Logger
}

// NewOpenAIClient constructs an OpenAI-backed oracle. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the public API.
func NewOpenAIClient(apiKey, baseURL, model string, candidates CandidateLister, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAIClient(openai.NewClientWithConfig(cfg), model, candidates, logger), nil
}

func newOpenAIClient(client chatCompleter, model string, candidates CandidateLister, logger *slog.Logger) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{client: client, model: model, candidates: candidates, logger: logger}
}

// Analyze implements Client.
func (o *OpenAIClient) Analyze(ctx context.Context, errCtx models.ErrorContext) (models.AdvisoryResponse, error) {
	var names []string
	if o.candidates != nil {
		names = o.candidates(errCtx.ErrorType)
	}
	if len(names) == 0 {
		return models.AdvisoryResponse{}, fmt.Errorf("no candidate strategies for %q", errCtx.ErrorType)
	}

	prompt, err := buildPrompt(errCtx, names)
	if err != nil {
		return models.AdvisoryResponse{}, err
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	o.logger.Debug("requesting advisory scores", slog.String("model", o.model), slog.Int("candidates", len(names)))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.AdvisoryResponse{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.AdvisoryResponse{}, fmt.Errorf("openai returned no choices")
	}

	var parsed models.AdvisoryResponse
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return models.AdvisoryResponse{}, fmt.Errorf("decode advisory content: %w", err)
	}
	parsed.IsValid = true

	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	for name := range parsed.StrategyScores {
		if _, ok := allowed[name]; !ok {
			delete(parsed.StrategyScores, name)
			delete(parsed.StrategyExplanations, name)
		}
	}
	return Sanitize(parsed), nil
}

func buildPrompt(errCtx models.ErrorContext, candidates []string) (string, error) {
	incident := struct {
		ErrorType       string                        `json:"error_type"`
		Message         string                        `json:"message"`
		SourceComponent string                        `json:"source_component"`
		Severity        string                        `json:"severity"`
		Scope           string                        `json:"scope"`
		Graph           map[string][]string           `json:"component_graph,omitempty"`
		Metrics         map[string]map[string]float64 `json:"component_metrics,omitempty"`
		Candidates      []string                      `json:"candidate_strategies"`
	}{
		ErrorType:       errCtx.ErrorType,
		Message:         errCtx.Message,
		SourceComponent: errCtx.SourceComponent,
		Severity:        errCtx.Severity.String(),
		Scope:           errCtx.Scope.String(),
		Graph:           errCtx.ComponentGraph,
		Metrics:         errCtx.ComponentMetrics,
		Candidates:      candidates,
	}
	data, err := json.Marshal(incident)
	if err != nil {
		return "", fmt.Errorf("marshal incident: %w", err)
	}
	return "Score each candidate strategy for this incident:\n" + string(data), nil
}
