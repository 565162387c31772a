package models

import "time"

// StepMetrics is emitted once per executed (or rolled back) step.
type StepMetrics struct {
	PlanID   string        `json:"plan_id"`
	StepID   string        `json:"step_id"`
	StepType StepType      `json:"step_type"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Rollback bool          `json:"rollback"`
}

// RemediationMetrics is emitted once per plan run.
type RemediationMetrics struct {
	PlanID          string        `json:"plan_id"`
	StrategyName    string        `json:"strategy_name"`
	Status          Status        `json:"status"`
	Risk            RiskLevel     `json:"risk"`
	StepsTotal      int           `json:"steps_total"`
	StepsCompleted  int           `json:"steps_completed"`
	StepsFailed     int           `json:"steps_failed"`
	RollbackStarted bool          `json:"rollback_started"`
	RollbackFailed  int           `json:"rollback_failed"`
	Duration        time.Duration `json:"duration"`
}

// RemediationOutcome is the audit record written after a plan run.
type RemediationOutcome struct {
	PlanID          string          `json:"plan_id"`
	CorrelationID   string          `json:"correlation_id"`
	ErrorType       string          `json:"error_type"`
	SourceComponent string          `json:"source_component"`
	StrategyName    string          `json:"strategy_name"`
	StrategyVersion string          `json:"strategy_version"`
	Confidence      float64         `json:"confidence"`
	Risk            RiskLevel       `json:"risk"`
	Status          Status          `json:"status"`
	Message         string          `json:"message"`
	Error           string          `json:"error,omitempty"`
	Result          ExecutionResult `json:"result"`
	RecordedAt      time.Time       `json:"recorded_at"`
}
