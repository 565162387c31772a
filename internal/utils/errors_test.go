package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	cases := []struct {
		err  error
		want string
	}{
		{NewAppError("cache.Get", "valkey unavailable", cause), "cache.Get: valkey unavailable: connection refused"},
		{NewAppError("engine.NewOrchestrator", "executor is required", nil), "engine.NewOrchestrator: executor is required"},
		{Wrap("strategy.LoadCatalog", cause), "strategy.LoadCatalog: connection refused"},
	}
	for _, tc := range cases {
		if tc.err.Error() != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, tc.err.Error())
		}
	}
}

func TestWrapKeepsChain(t *testing.T) {
	if Wrap("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	cause := errors.New("boom")
	err := fmt.Errorf("assemble: %w", Wrap("plan.NewManager", cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected cause on the chain")
	}
	if OpOf(err) != "plan.NewManager" {
		t.Fatalf("unexpected op %q", OpOf(err))
	}
	if OpOf(cause) != "" {
		t.Fatal("expected no op for a plain error")
	}
}
