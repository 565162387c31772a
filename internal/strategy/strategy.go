package strategy

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// Strategy is a named, versioned remediation approach. Implementations describe the steps
// that remediate an incident; the plan manager turns that description into a plan.
type Strategy interface {
	Metadata() models.StrategyMetadata
	Blueprint(ctx context.Context, errCtx models.ErrorContext) (Blueprint, error)
}

// Blueprint is the step layout and execution policy a strategy proposes for one incident.
type Blueprint struct {
	Description   string
	Steps         []StepDefinition
	RollbackOrder models.RollbackOrder
	// MaxRetries overrides the engine default when non-nil.
	MaxRetries *int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// StepDefinition describes one forward step and, optionally, the step that compensates it.
type StepDefinition struct {
	ID             string
	Name           string
	Type           models.StepType
	Action         string
	Parameters     models.ActionParameters
	DependsOn      []string
	Optional       bool
	TimeoutSeconds int
	MaxRetries     *int
	Rollback       *RollbackDefinition
}

// RollbackDefinition is the compensating action for a forward step.
type RollbackDefinition struct {
	Name           string
	Action         string
	Parameters     models.ActionParameters
	TimeoutSeconds int
}

// Registration pairs a strategy with the metadata it was registered under.
type Registration struct {
	Strategy Strategy
	Metadata models.StrategyMetadata
}

// Func adapts a plain function into a Strategy.
type Func struct {
	Meta models.StrategyMetadata
	Fn   func(ctx context.Context, errCtx models.ErrorContext) (Blueprint, error)
}

// Metadata implements Strategy.
func (f Func) Metadata() models.StrategyMetadata { return f.Meta }

// Blueprint implements Strategy.
func (f Func) Blueprint(ctx context.Context, errCtx models.ErrorContext) (Blueprint, error) {
	return f.Fn(ctx, errCtx)
}
