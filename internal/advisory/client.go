package advisory

import (
	"context"
	"errors"
	"math"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// ErrEmptyScores is reported when an oracle answers without any strategy scores.
var ErrEmptyScores = errors.New("advisory response carries no strategy scores")

// Client is an external, untrusted oracle that scores candidate strategies for an incident.
type Client interface {
	Analyze(ctx context.Context, errCtx models.ErrorContext) (models.AdvisoryResponse, error)
}

// CandidateLister returns the strategy names an oracle should score for an error type.
type CandidateLister func(errorType string) []string

// Sanitize clamps every score into [0,1] and marks responses without scores invalid.
// Non-finite scores are dropped.
func Sanitize(resp models.AdvisoryResponse) models.AdvisoryResponse {
	out := models.AdvisoryResponse{
		StrategyScores:       make(map[string]float64, len(resp.StrategyScores)),
		StrategyExplanations: make(map[string]string, len(resp.StrategyExplanations)),
		IsValid:              resp.IsValid,
		ErrorMessage:         resp.ErrorMessage,
	}
	for name, score := range resp.StrategyScores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		out.StrategyScores[name] = math.Max(0, math.Min(1, score))
	}
	for name, text := range resp.StrategyExplanations {
		out.StrategyExplanations[name] = text
	}
	if len(out.StrategyScores) == 0 {
		out.IsValid = false
		if out.ErrorMessage == "" {
			out.ErrorMessage = ErrEmptyScores.Error()
		}
	}
	return out
}

// StaticClient answers with a fixed score table. It backs local runs and tests.
type StaticClient struct {
	Scores       map[string]float64
	Explanations map[string]string
	Err          error
}

// Analyze implements Client.
func (c StaticClient) Analyze(ctx context.Context, _ models.ErrorContext) (models.AdvisoryResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.AdvisoryResponse{}, err
	}
	if c.Err != nil {
		return models.AdvisoryResponse{}, c.Err
	}
	return Sanitize(models.AdvisoryResponse{
		StrategyScores:       c.Scores,
		StrategyExplanations: c.Explanations,
		IsValid:              true,
	}), nil
}
