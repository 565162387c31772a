package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AnalyzeRequest asks for ranked strategies without building a plan.
type AnalyzeRequest struct {
	ErrorContext models.ErrorContext `json:"error_context"`
}

// AnalyzeResponse carries the analysis outcome.
type AnalyzeResponse struct {
	Analysis models.AnalysisResult `json:"analysis"`
}

// RemediateRequest runs the full flow for an incident. When Wait is false the plan is
// started in the background and the response returns immediately.
type RemediateRequest struct {
	ErrorContext models.ErrorContext `json:"error_context"`
	Wait         bool                `json:"wait"`
}

// RemediateResponse reports the plan and, for waited runs, the execution result.
type RemediateResponse struct {
	Plan     *models.RemediationPlan `json:"plan"`
	Analysis models.AnalysisResult   `json:"analysis"`
	Result   *models.ExecutionResult `json:"result,omitempty"`
}

// ApproveRequest approves or rejects a plan waiting for approval.
type ApproveRequest struct {
	PlanID   string `json:"plan_id" validate:"required"`
	Approver string `json:"approver" validate:"required_unless=Reject true"`
	Reject   bool   `json:"reject"`
	Reason   string `json:"reason"`
	Start    bool   `json:"start"`
}

// CancelRequest cancels a plan.
type CancelRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
	Reason string `json:"reason"`
}

// GetPlanRequest looks up a plan.
type GetPlanRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// PlanResponse wraps a plan snapshot.
type PlanResponse struct {
	Plan *models.RemediationPlan `json:"plan"`
}

// ActionStatusRequest looks up one tracked action.
type ActionStatusRequest struct {
	PlanID   string `json:"plan_id" validate:"required"`
	ActionID string `json:"action_id" validate:"required"`
}

// ActionStatusResponse wraps an execution record.
type ActionStatusResponse struct {
	Record models.ExecutionRecord `json:"record"`
}

// ListExecutionsRequest lists execution records, optionally for one plan.
type ListExecutionsRequest struct {
	PlanID string `json:"plan_id,omitempty"`
}

// ListExecutionsResponse carries the records in start order.
type ListExecutionsResponse struct {
	Records []models.ExecutionRecord `json:"records"`
}

// HealthResponse describes the serving state.
type HealthResponse struct {
	Status         string                   `json:"status"`
	Strategies     int                      `json:"strategies"`
	Actions        int                      `json:"actions"`
	Latency        utils.LatencySummary     `json:"latency"`
	RecentOutcomes []string                 `json:"recent_outcomes,omitempty"`
	Patterns       []models.StrategyPattern `json:"patterns,omitempty"`
}

// Decode converts a Struct request into dst and validates it. A nil payload is an error.
func Decode(in *structpb.Struct, dst any) error {
	if err := decode(in, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func decode(in *structpb.Struct, dst any) error {
	if in == nil {
		return errors.New("request cannot be nil")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Encode converts v into a Struct using its JSON field names.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(fields)
}

// NormalizeErrorContext stamps contexts that arrive without a capture time. Field
// validation is left to the analysis stage so malformed incidents surface as invalid results.
func NormalizeErrorContext(errCtx models.ErrorContext) models.ErrorContext {
	if errCtx.Timestamp.IsZero() {
		errCtx.Timestamp = time.Now().UTC()
	}
	return errCtx
}
