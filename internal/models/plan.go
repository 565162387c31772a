package models

import (
	"fmt"
	"strings"
	"time"
)

// StepType classifies what a remediation step does.
type StepType string

const (
	StepValidation   StepType = "validation"
	StepPreparation  StepType = "preparation"
	StepExecution    StepType = "execution"
	StepVerification StepType = "verification"
	StepCleanup      StepType = "cleanup"
	StepRollback     StepType = "rollback"
	StepNotification StepType = "notification"
)

// ParseStepType maps a case-insensitive name onto a StepType.
func ParseStepType(value string) (StepType, error) {
	switch StepType(strings.ToLower(strings.TrimSpace(value))) {
	case StepValidation:
		return StepValidation, nil
	case StepPreparation:
		return StepPreparation, nil
	case StepExecution, "":
		return StepExecution, nil
	case StepVerification:
		return StepVerification, nil
	case StepCleanup:
		return StepCleanup, nil
	case StepRollback:
		return StepRollback, nil
	case StepNotification:
		return StepNotification, nil
	}
	return "", fmt.Errorf("unknown step type %q", value)
}

// RollbackOrder selects the order rollback steps run in.
type RollbackOrder string

const (
	RollbackReverse RollbackOrder = "reverse"
	RollbackForward RollbackOrder = "forward"
)

// ActionParameters is the closed parameter set every action handler understands.
type ActionParameters struct {
	Target      string            `json:"target,omitempty" yaml:"target" validate:"omitempty,max=256"`
	Command     string            `json:"command,omitempty" yaml:"command" validate:"omitempty,max=1024"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint" validate:"omitempty,url"`
	WaitSeconds int               `json:"wait_seconds,omitempty" yaml:"waitSeconds" validate:"gte=0,lte=3600"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra"`
}

// RemediationStep is one unit of remediation work. Steps are also the unit the executor
// tracks, so a step is its own action.
type RemediationStep struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           StepType         `json:"type"`
	Order          int              `json:"order"`
	DependsOn      []string         `json:"depends_on,omitempty"`
	Action         string           `json:"action"`
	Parameters     ActionParameters `json:"parameters"`
	Optional       bool             `json:"optional,omitempty"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
	MaxRetries     *int             `json:"max_retries,omitempty"`
	Status         Status           `json:"status"`
	StartedAt      time.Time        `json:"started_at,omitempty"`
	EndedAt        time.Time        `json:"ended_at,omitempty"`
	RetryCount     int              `json:"retry_count"`
	Error          string           `json:"error,omitempty"`
	Message        string           `json:"message,omitempty"`
	RollbackStepID string           `json:"rollback_step_id,omitempty"`
	// ForStepID is set on rollback steps and names the forward step they compensate.
	ForStepID string `json:"for_step_id,omitempty"`
}

// Transition moves the step to a new status, rejecting moves outside the state machine.
func (s *RemediationStep) Transition(to Status, now time.Time) error {
	if err := ValidateTransition(s.Status, to); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	s.Status = to
	switch to {
	case StatusInProgress:
		if s.StartedAt.IsZero() {
			s.StartedAt = now
		}
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled, StatusRolledBack:
		s.EndedAt = now
	}
	return nil
}

// RollbackPlan pairs compensating steps with an ordering policy.
type RollbackPlan struct {
	Steps     []RemediationStep `json:"steps"`
	Order     RollbackOrder     `json:"order"`
	Triggered bool              `json:"triggered"`
}

// IsAvailable reports whether the plan has anything to roll back with.
func (r *RollbackPlan) IsAvailable() bool {
	return r != nil && !r.Triggered && len(r.Steps) > 0
}

// StepRollbackStatus reports the outcome of a rollback traversal.
type StepRollbackStatus struct {
	RolledBackSteps []string          `json:"rolled_back_steps,omitempty"`
	FailedActions   []string          `json:"failed_actions,omitempty"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// Succeeded reports whether every rollback action completed.
func (s StepRollbackStatus) Succeeded() bool {
	return len(s.FailedActions) == 0
}

// RemediationPlan is an ordered, validated set of steps built from one strategy.
type RemediationPlan struct {
	ID               string            `json:"id"`
	StrategyName     string            `json:"strategy_name"`
	StrategyVersion  string            `json:"strategy_version"`
	CorrelationID    string            `json:"correlation_id,omitempty"`
	ErrorType        string            `json:"error_type,omitempty"`
	SourceComponent  string            `json:"source_component,omitempty"`
	Confidence       float64           `json:"confidence"`
	Description      string            `json:"description,omitempty"`
	Steps            []RemediationStep `json:"steps"`
	Rollback         *RollbackPlan     `json:"rollback,omitempty"`
	Status           Status            `json:"status"`
	Message          string            `json:"message,omitempty"`
	Error            string            `json:"error,omitempty"`
	Risk             RiskAssessment    `json:"risk"`
	RequiresApproval bool              `json:"requires_approval"`
	Approved         bool              `json:"approved"`
	Timeout          time.Duration     `json:"timeout"`
	MaxRetries       int               `json:"max_retries"`
	RetryDelay       time.Duration     `json:"retry_delay"`
	Alternatives     []string          `json:"alternatives,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Transition moves the plan to a new status, rejecting moves outside the state machine.
func (p *RemediationPlan) Transition(to Status, now time.Time) error {
	if err := ValidateTransition(p.Status, to); err != nil {
		return fmt.Errorf("plan %s: %w", p.ID, err)
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}

// Step returns a pointer to the step with the given id.
func (p *RemediationPlan) Step(id string) *RemediationStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to publish to concurrent readers.
func (p *RemediationPlan) Clone() *RemediationPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = cloneSteps(p.Steps)
	if p.Rollback != nil {
		rb := *p.Rollback
		rb.Steps = cloneSteps(p.Rollback.Steps)
		out.Rollback = &rb
	}
	out.Risk.PotentialIssues = append([]string(nil), p.Risk.PotentialIssues...)
	out.Risk.MitigationSteps = append([]string(nil), p.Risk.MitigationSteps...)
	out.Alternatives = append([]string(nil), p.Alternatives...)
	return &out
}

func cloneSteps(steps []RemediationStep) []RemediationStep {
	if steps == nil {
		return nil
	}
	out := make([]RemediationStep, len(steps))
	for i, s := range steps {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		if s.Parameters.Extra != nil {
			extra := make(map[string]string, len(s.Parameters.Extra))
			for k, v := range s.Parameters.Extra {
				extra[k] = v
			}
			s.Parameters.Extra = extra
		}
		if s.MaxRetries != nil {
			n := *s.MaxRetries
			s.MaxRetries = &n
		}
		out[i] = s
	}
	return out
}

// StrategyMetadata describes a registered strategy.
type StrategyMetadata struct {
	Name               string    `json:"name" validate:"required"`
	Version            string    `json:"version" validate:"required"`
	Description        string    `json:"description,omitempty"`
	SupportedErrorType []string  `json:"supported_error_types" validate:"min=1"`
	Priority           int       `json:"priority" validate:"gte=1,lte=5"`
	TargetComponent    string    `json:"target_component,omitempty"`
	RequiresApproval   bool      `json:"requires_approval"`
	CreatedAt          time.Time `json:"created_at"`
	ModifiedAt         time.Time `json:"modified_at"`
}

// Supports reports whether the strategy declares errorType (or the "*" wildcard).
func (m StrategyMetadata) Supports(errorType string) bool {
	for _, t := range m.SupportedErrorType {
		if t == "*" || strings.EqualFold(t, errorType) {
			return true
		}
	}
	return false
}

// ExecutionRecord is the tracked outcome of one action in one plan.
type ExecutionRecord struct {
	PlanID    string    `json:"plan_id"`
	ActionID  string    `json:"action_id"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Rollback  bool      `json:"rollback,omitempty"`
}

// ExecutionResult is what the executor reports back for a plan run.
type ExecutionResult struct {
	PlanID     string              `json:"plan_id"`
	Status     Status              `json:"status"`
	Message    string              `json:"message"`
	Error      string              `json:"error,omitempty"`
	Validation ValidationResult    `json:"validation"`
	Executed   []string            `json:"executed,omitempty"`
	Rollback   *StepRollbackStatus `json:"rollback,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    time.Time           `json:"ended_at"`
}
