package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/strategy"
)

const (
	graphWeight    = 0.4
	advisoryWeight = 0.6
)

// StrategySource lists the strategies applicable to an error type.
type StrategySource interface {
	GetStrategiesForErrorType(errorType string) []strategy.Registration
}

// AnalyzerOptions tunes degradation behaviour.
type AnalyzerOptions struct {
	// RequireGraph rejects analyses without graph data instead of scoring on advisory alone.
	RequireGraph bool
}

// RemediationAnalyzer combines graph analysis and advisory scores into ranked strategies.
type RemediationAnalyzer struct {
	strategies StrategySource
	opts       AnalyzerOptions
	logger     *slog.Logger
}

// NewRemediationAnalyzer constructs a RemediationAnalyzer.
func NewRemediationAnalyzer(strategies StrategySource, opts AnalyzerOptions, logger *slog.Logger) *RemediationAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationAnalyzer{strategies: strategies, opts: opts, logger: logger}
}

// ValidateContext reports why an error context cannot be analysed, or "" when it can.
func ValidateContext(errCtx models.ErrorContext) string {
	switch {
	case strings.TrimSpace(errCtx.ErrorType) == "":
		return "error type is required"
	case strings.TrimSpace(errCtx.SourceComponent) == "":
		return "source component is required"
	}
	return ""
}

// Rank scores every applicable strategy. advisoryErr is the error returned by the advisory
// call, if any. Failures come back as an invalid result rather than an error.
func (a *RemediationAnalyzer) Rank(errCtx models.ErrorContext, graph models.GraphAnalysis, advisory models.AdvisoryResponse, advisoryErr error) models.AnalysisResult {
	result := models.AnalysisResult{Graph: graph, Advisory: advisory}

	if msg := ValidateContext(errCtx); msg != "" {
		return invalid(result, models.FailureInvalidContext, msg)
	}

	advisoryOK := advisoryErr == nil && advisory.IsValid && len(advisory.StrategyScores) > 0
	switch {
	case !graph.Valid && !advisoryOK:
		return invalid(result, models.FailureAdvisoryUnavailable, joinReasons(graph.Message, advisoryReason(advisory, advisoryErr)))
	case !graph.Valid && a.opts.RequireGraph:
		return invalid(result, models.FailureNoGraphData, graph.Message)
	case !graph.Valid:
		result.Warnings = append(result.Warnings, "graph unavailable, scoring on advisory only: "+graph.Message)
	case !advisoryOK:
		result.Warnings = append(result.Warnings, "advisory unavailable, scoring on graph only: "+advisoryReason(advisory, advisoryErr))
	}

	candidates := a.strategies.GetStrategiesForErrorType(errCtx.ErrorType)
	if len(candidates) == 0 {
		return invalid(result, models.FailureNoApplicableStrategies,
			fmt.Sprintf("no strategies registered for error type %q", errCtx.ErrorType))
	}

	recs := make([]models.StrategyRecommendation, 0, len(candidates))
	for _, reg := range candidates {
		recs = append(recs, score(errCtx, graph, advisory, advisoryOK, reg.Metadata))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		return recs[i].StrategyName < recs[j].StrategyName
	})

	result.Valid = true
	result.Recommendations = recs
	a.logger.Debug("strategies ranked",
		slog.String("correlation_id", errCtx.CorrelationID),
		slog.Int("candidates", len(recs)),
		slog.String("top", recs[0].StrategyName),
		slog.Float64("confidence", recs[0].Confidence),
	)
	return result
}

func score(errCtx models.ErrorContext, graph models.GraphAnalysis, advisory models.AdvisoryResponse, advisoryOK bool, meta models.StrategyMetadata) models.StrategyRecommendation {
	health, hasHealth := strategyHealth(graph, errCtx, meta)

	var advisoryScore float64
	var hasScore bool
	var explanation string
	if advisoryOK {
		advisoryScore, hasScore = advisory.StrategyScores[meta.Name]
		advisoryScore = clamp(advisoryScore, 0, 1)
		explanation = strings.TrimSpace(advisory.StrategyExplanations[meta.Name])
	}

	raw := graphWeight*health + advisoryWeight*advisoryScore
	confidence := clamp(raw*float64(6-meta.Priority)/5, 0, 1)

	parts := make([]string, 0, 4)
	if hasHealth {
		parts = append(parts, fmt.Sprintf("graph health %.0f%%", health*100))
	}
	if hasScore {
		parts = append(parts, fmt.Sprintf("advisory score %.0f%%", advisoryScore*100))
	}
	parts = append(parts, fmt.Sprintf("priority %d/5", meta.Priority))
	if explanation != "" {
		parts = append(parts, explanation)
	}

	return models.StrategyRecommendation{
		StrategyName: meta.Name,
		Version:      meta.Version,
		Priority:     meta.Priority,
		Confidence:   confidence,
		Reasoning:    strings.Join(parts, "; "),
	}
}

// strategyHealth resolves the graph term for a strategy: a component sharing the strategy's
// name wins, otherwise the strategy's target component, otherwise the error source.
func strategyHealth(graph models.GraphAnalysis, errCtx models.ErrorContext, meta models.StrategyMetadata) (float64, bool) {
	if h, ok := graph.Health(meta.Name); ok {
		return h, true
	}
	target := meta.TargetComponent
	if target == "" {
		target = errCtx.SourceComponent
	}
	return graph.Health(target)
}

func advisoryReason(advisory models.AdvisoryResponse, err error) string {
	if err != nil {
		return err.Error()
	}
	if advisory.ErrorMessage != "" {
		return advisory.ErrorMessage
	}
	return "advisory response invalid"
}

func invalid(result models.AnalysisResult, kind models.FailureKind, msg string) models.AnalysisResult {
	result.Valid = false
	result.Failure = kind
	result.ErrorMessage = msg
	result.Recommendations = nil
	return result
}

func joinReasons(reasons ...string) string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if r != "" {
			out = append(out, r)
		}
	}
	return strings.Join(out, "; ")
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) || value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
