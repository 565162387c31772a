package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// CacheKey is where the latest mined patterns are published.
const CacheKey = "remediation:patterns"

// Miner aggregates recorded remediation outcomes into per error type and strategy patterns.
type Miner struct {
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewMiner constructs a Miner; cacheProvider may be nil for dry runs.
func NewMiner(logger *slog.Logger, cacheProvider cache.Provider, ttl time.Duration) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{cache: cacheProvider, ttl: ttl, logger: logger}
}

// Mine returns one pattern per (error type, strategy), most successful first. Cancelled
// outcomes never ran to a verdict and are skipped.
func (m *Miner) Mine(ctx context.Context, outcomes []models.RemediationOutcome) []models.StrategyPattern {
	if len(outcomes) == 0 {
		return nil
	}

	stats := make(map[patternKey]*aggregate)
	for _, o := range outcomes {
		if o.Status == models.StatusCancelled {
			continue
		}
		agg := ensureAggregate(stats, patternKey{errorType: o.ErrorType, strategy: o.StrategyName})
		agg.runs++
		switch o.Status {
		case models.StatusCompleted:
			agg.successes++
		case models.StatusRolledBack:
			agg.rolledBack++
			agg.failures++
		default:
			if models.IsFailure(o.Status) {
				agg.failures++
			}
		}
		if o.SourceComponent != "" {
			agg.components[o.SourceComponent]++
		}
		if o.RecordedAt.After(agg.lastSeen) {
			agg.lastSeen = o.RecordedAt
		}
	}

	patterns := make([]models.StrategyPattern, 0, len(stats))
	for key, agg := range stats {
		patterns = append(patterns, models.StrategyPattern{
			ErrorType:   key.errorType,
			Strategy:    key.strategy,
			Runs:        agg.runs,
			Successes:   agg.successes,
			Failures:    agg.failures,
			RolledBack:  agg.rolledBack,
			SuccessRate: float64(agg.successes) / float64(agg.runs),
			Components:  agg.topComponents(3),
			LastSeen:    agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.Runs != b.Runs {
			return a.Runs > b.Runs
		}
		if a.ErrorType != b.ErrorType {
			return a.ErrorType < b.ErrorType
		}
		return a.Strategy < b.Strategy
	})

	if m.cache != nil && len(patterns) > 0 {
		if err := cache.SetJSON(ctx, m.cache, CacheKey, patterns, m.ttl); err != nil {
			m.logger.Warn("pattern publish failed", slog.Any("error", err))
		}
	}
	return patterns
}

type patternKey struct {
	errorType string
	strategy  string
}

type aggregate struct {
	runs       int
	successes  int
	failures   int
	rolledBack int
	lastSeen   time.Time
	components map[string]int
}

func ensureAggregate(m map[patternKey]*aggregate, key patternKey) *aggregate {
	if key.errorType == "" {
		key.errorType = "unknown"
	}
	agg, ok := m[key]
	if !ok {
		agg = &aggregate{components: make(map[string]int)}
		m[key] = agg
	}
	return agg
}

func (agg *aggregate) topComponents(limit int) []string {
	names := make([]string, 0, len(agg.components))
	for name := range agg.components {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if agg.components[names[i]] != agg.components[names[j]] {
			return agg.components[names[i]] > agg.components[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}
