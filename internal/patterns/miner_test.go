package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

func TestMinerMinesPatterns(t *testing.T) {
	mem := cache.NewMemoryProvider()
	miner := NewMiner(nil, mem, time.Minute)

	now := time.Now()
	outcomes := []models.RemediationOutcome{
		{ErrorType: "Timeout", StrategyName: "Monitor", SourceComponent: "checkout", Status: models.StatusCompleted, RecordedAt: now},
		{ErrorType: "Timeout", StrategyName: "Monitor", SourceComponent: "payments", Status: models.StatusCompleted, RecordedAt: now.Add(time.Minute)},
		{ErrorType: "Timeout", StrategyName: "Monitor", SourceComponent: "checkout", Status: models.StatusTimedOut, RecordedAt: now},
		{ErrorType: "Timeout", StrategyName: "RestartService", SourceComponent: "checkout", Status: models.StatusRolledBack, RecordedAt: now},
		{ErrorType: "Timeout", StrategyName: "RestartService", SourceComponent: "checkout", Status: models.StatusCancelled, RecordedAt: now},
		{ErrorType: "Crash", StrategyName: "RestartService", SourceComponent: "ledger", Status: models.StatusCompleted, RecordedAt: now},
	}

	patterns := miner.Mine(context.Background(), outcomes)
	if len(patterns) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(patterns))
	}

	if patterns[0].ErrorType != "Crash" || patterns[0].SuccessRate != 1 {
		t.Fatalf("expected the crash restart pattern first, got %+v", patterns[0])
	}

	monitor := patterns[1]
	if monitor.Strategy != "Monitor" || monitor.Runs != 3 || monitor.Successes != 2 || monitor.Failures != 1 {
		t.Fatalf("unexpected monitor pattern %+v", monitor)
	}
	if monitor.Components[0] != "checkout" || len(monitor.Components) != 2 {
		t.Fatalf("unexpected components %v", monitor.Components)
	}
	if !monitor.LastSeen.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected last seen %v", monitor.LastSeen)
	}

	restart := patterns[2]
	if restart.Runs != 1 || restart.RolledBack != 1 || restart.SuccessRate != 0 {
		t.Fatalf("cancelled outcomes must be skipped, got %+v", restart)
	}

	var published []models.StrategyPattern
	if err := cache.GetJSON(context.Background(), mem, CacheKey, &published); err != nil {
		t.Fatalf("expected patterns in cache: %v", err)
	}
	if len(published) != 3 {
		t.Fatalf("expected 3 published patterns, got %d", len(published))
	}
}

func TestMinerEmptyHistory(t *testing.T) {
	if got := NewMiner(nil, nil, 0).Mine(context.Background(), nil); got != nil {
		t.Fatalf("expected no patterns, got %v", got)
	}
}
