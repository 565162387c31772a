package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// HandlerLookup reports whether an action name has a registered handler.
type HandlerLookup interface {
	Has(action string) bool
}

// Validator gates plans, actions and strategies before they may run.
type Validator struct {
	validate *validator.Validate
	handlers HandlerLookup
	logger   *slog.Logger
}

// New constructs a Validator. handlers may be nil, in which case action names are not
// checked against a registry.
func New(handlers HandlerLookup, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: validate, handlers: handlers, logger: logger}
}

// ValidatePlan checks the plan's structure: at least one step, unique ids, resolvable
// dependencies and an acyclic dependency graph. errCtx is optional.
func (v *Validator) ValidatePlan(plan *models.RemediationPlan, errCtx *models.ErrorContext) models.ValidationResult {
	result := models.NewValidationResult()
	if plan == nil {
		result.AddError("plan", "plan is required")
		return result
	}
	if len(plan.Steps) == 0 {
		result.AddError("steps", "plan must contain at least one step")
		return result
	}

	ids := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(step.ID) == "" {
			result.AddError(field+".id", "step id is required")
			continue
		}
		if _, dup := ids[step.ID]; dup {
			result.AddError(field+".id", fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = struct{}{}
		if strings.TrimSpace(step.Action) == "" {
			result.AddError(field+".action", "action is required")
		}
	}

	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			field := fmt.Sprintf("steps[%s].depends_on", step.ID)
			if dep == step.ID {
				result.AddError(field, "self-reference is not allowed")
				continue
			}
			if _, ok := ids[dep]; !ok {
				result.AddError(field, fmt.Sprintf("unknown dependency %q", dep))
			}
		}
	}

	if _, err := TopologicalOrder(plan.Steps); err != nil {
		var cycle *CycleError
		if errors.As(err, &cycle) {
			result.AddError("steps", err.Error())
		}
	}

	if plan.Rollback != nil {
		for _, rb := range plan.Rollback.Steps {
			if rb.ForStepID != "" {
				if _, ok := ids[rb.ForStepID]; !ok {
					result.AddError("rollback.steps", fmt.Sprintf("rollback step %s compensates unknown step %q", rb.ID, rb.ForStepID))
				}
			}
		}
	} else {
		result.AddWarning("rollback", "plan has no rollback plan")
	}

	if plan.RequiresApproval && !plan.Approved {
		result.AddWarning("approval", "plan requires approval before execution")
	}
	if errCtx != nil && plan.CorrelationID != "" && errCtx.CorrelationID != "" && plan.CorrelationID != errCtx.CorrelationID {
		result.AddWarning("correlation_id", "plan was built for a different incident")
	}

	if !result.IsValid {
		v.logger.Debug("plan validation failed", slog.String("plan_id", plan.ID), slog.String("errors", result.Summary()))
	}
	return result
}

// ValidateAction checks that step may start now: its handler exists, every dependency has
// completed, its parameters are well formed and neither step nor plan is awaiting approval.
func (v *Validator) ValidateAction(plan *models.RemediationPlan, step *models.RemediationStep) models.ValidationResult {
	result := models.NewValidationResult()
	if plan == nil || step == nil {
		result.AddError("action", "plan and step are required")
		return result
	}

	if v.handlers != nil && !v.handlers.Has(step.Action) {
		result.AddError("action", fmt.Sprintf("no handler registered for action %q", step.Action))
	}

	for _, dep := range step.DependsOn {
		other := plan.Step(dep)
		if other == nil {
			result.AddError("depends_on", fmt.Sprintf("unknown dependency %q", dep))
			continue
		}
		if other.Status != models.StatusCompleted {
			result.AddError("depends_on", fmt.Sprintf("dependency %s is %s", dep, other.Status))
		}
	}

	if err := v.validate.Struct(step.Parameters); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result.AddError("parameters."+fe.Field(), describe(fe))
			}
		} else {
			result.AddError("parameters", err.Error())
		}
	}
	if step.TimeoutSeconds < 0 {
		result.AddError("timeout_seconds", "timeout must not be negative")
	}
	if step.MaxRetries != nil && *step.MaxRetries < 0 {
		result.AddError("max_retries", "max retries must not be negative")
	}

	switch {
	case plan.Status == models.StatusWaitingForApproval:
		result.AddError("status", "plan is waiting for approval")
	case plan.Status == models.StatusCancelled:
		result.AddError("status", "plan has been cancelled")
	}
	switch step.Status {
	case models.StatusNotStarted, models.StatusRetrying:
	default:
		result.AddError("status", fmt.Sprintf("step %s cannot start from %s", step.ID, step.Status))
	}
	return result
}

// ValidateStrategy checks a strategy's metadata and, when errCtx is given, that it applies
// to the incident.
func (v *Validator) ValidateStrategy(meta models.StrategyMetadata, errCtx *models.ErrorContext) models.ValidationResult {
	result := models.NewValidationResult()
	if err := v.validate.Struct(meta); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result.AddError(fe.Field(), describe(fe))
			}
		} else {
			result.AddError("strategy", err.Error())
		}
	}
	if errCtx != nil {
		if !meta.Supports(errCtx.ErrorType) {
			result.AddError("supported_error_types", fmt.Sprintf("strategy %s does not handle %q", meta.Name, errCtx.ErrorType))
		}
		if meta.TargetComponent != "" && errCtx.HasGraph() && !containsComponent(errCtx.Components(), meta.TargetComponent) {
			result.AddWarning("target_component", fmt.Sprintf("%s is not part of the component graph", meta.TargetComponent))
		}
	}
	return result
}

// Struct validates any tagged struct and flattens the failures into a single error.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), describe(fe)))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, ", "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func containsComponent(components []string, target string) bool {
	for _, c := range components {
		if c == target {
			return true
		}
	}
	return false
}
