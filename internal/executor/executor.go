package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-remediation/internal/actions"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/validation"
)

const defaultActionTimeout = 300 * time.Second

// HandlerSource resolves action names to handlers.
type HandlerSource interface {
	Get(name string) (actions.Handler, bool)
}

// MetricsCollector receives execution metrics. Its errors are logged and never fail a plan.
type MetricsCollector interface {
	RecordMetric(name string, value float64, labels map[string]string) error
	RecordStepMetrics(m models.StepMetrics) error
	RecordRemediationMetrics(m models.RemediationMetrics) error
}

// Options configures the executor.
type Options struct {
	DefaultActionTimeout time.Duration
}

// Executor runs plans step by step, retrying failed actions and rolling back on failure.
// Steps within a plan run sequentially; separate plans may run concurrently.
type Executor struct {
	handlers  HandlerSource
	validator *validation.Validator
	tracker   *Tracker
	metrics   MetricsCollector
	tracer    trace.Tracer
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	// mu orders Cancel against the end of Execute so no cancel mark outlives its plan.
	mu        sync.Mutex
	cancelled sync.Map
}

// New constructs an Executor. metrics may be nil. Without a validator, action names are
// checked against handlers when it can report them.
func New(handlers HandlerSource, validator *validation.Validator, tracker *Tracker, metrics MetricsCollector, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if validator == nil {
		lookup, _ := handlers.(validation.HandlerLookup)
		validator = validation.New(lookup, logger)
	}
	if opts.DefaultActionTimeout <= 0 {
		opts.DefaultActionTimeout = defaultActionTimeout
	}
	return &Executor{
		handlers:  handlers,
		validator: validator,
		tracker:   tracker,
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/miradorstack/mirador-remediation/internal/executor"),
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

// Tracker exposes the execution tracker.
func (e *Executor) Tracker() *Tracker {
	return e.tracker
}

// Cancel asks a running plan to stop before its next step. In-flight actions finish.
// Plans that already finished are left alone.
func (e *Executor) Cancel(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if snap, ok := e.tracker.Plan(planID); ok && !isActive(snap.Status) {
		return
	}
	e.cancelled.Store(planID, struct{}{})
}

func isActive(s models.Status) bool {
	return s == models.StatusInProgress || s == models.StatusRetrying
}

func (e *Executor) forget(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled.Delete(planID)
}

func (e *Executor) isCancelled(planID string) bool {
	_, ok := e.cancelled.Load(planID)
	return ok
}

// Execute runs plan to completion. The executor owns plan for the duration of the call and
// publishes snapshots to the tracker as it goes.
func (e *Executor) Execute(ctx context.Context, plan *models.RemediationPlan) models.ExecutionResult {
	start := e.now()
	if plan == nil {
		return models.ExecutionResult{Status: models.StatusFailed, Message: "no plan", Error: "plan is required", StartedAt: start, EndedAt: start}
	}
	result := models.ExecutionResult{PlanID: plan.ID, StartedAt: start}
	defer e.forget(plan.ID)

	parent := ctx
	ctx, span := e.tracer.Start(ctx, "remediation.Execute",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.String("plan.strategy", plan.StrategyName),
			attribute.Int("plan.steps", len(plan.Steps)),
		),
	)
	defer span.End()

	result.Validation = e.validator.ValidatePlan(plan, nil)
	if !result.Validation.IsValid {
		plan.Error = result.Validation.Summary()
		plan.Message = "plan failed validation"
		e.tracker.publish(plan)
		span.SetStatus(codes.Error, "validation failed")
		return e.finish(result, plan, models.StatusFailed, plan.Message, plan.Error)
	}

	if plan.RequiresApproval && !plan.Approved {
		if plan.Status == models.StatusNotStarted {
			_ = plan.Transition(models.StatusWaitingForApproval, e.now())
		}
		plan.Message = "plan requires approval before execution"
		e.tracker.publish(plan)
		return e.finish(result, plan, models.StatusWaitingForApproval, plan.Message, "")
	}

	if err := plan.Transition(models.StatusInProgress, e.now()); err != nil {
		span.RecordError(err)
		return e.finish(result, plan, plan.Status, "plan cannot start", err.Error())
	}
	plan.Message = "executing"
	e.tracker.publish(plan)

	if plan.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
	}

	order, err := validation.TopologicalOrder(plan.Steps)
	if err != nil {
		return e.failPlan(ctx, span, result, plan, nil, "", err.Error())
	}

	var executed []string
	skipped := 0
	for _, id := range order {
		step := plan.Step(id)

		if e.isCancelled(plan.ID) || parent.Err() != nil {
			return e.cancelPlan(span, result, plan, executed)
		}
		if ctx.Err() != nil {
			msg := fmt.Sprintf("plan timed out after %s", plan.Timeout)
			return e.failPlan(ctx, span, result, plan, executed, "", msg)
		}

		if dep := blockedBy(plan, step); dep != "" {
			e.skipStep(plan, step, fmt.Sprintf("dependency %s did not complete", dep))
			skipped++
			continue
		}

		executed = append(executed, step.ID)
		if ok := e.runStep(ctx, plan, step); ok {
			continue
		}
		if step.Optional {
			e.logger.Warn("optional step failed",
				slog.String("plan_id", plan.ID),
				slog.String("step_id", step.ID),
				slog.String("error", step.Error),
			)
			continue
		}
		return e.failPlan(ctx, span, result, plan, executed, step.ID, step.Error)
	}

	msg := fmt.Sprintf("completed %d steps", len(executed))
	if skipped > 0 {
		msg += fmt.Sprintf(", skipped %d", skipped)
	}
	_ = plan.Transition(models.StatusCompleted, e.now())
	plan.Message = msg
	e.tracker.publish(plan)
	span.SetStatus(codes.Ok, "")
	result.Executed = executed
	return e.finish(result, plan, models.StatusCompleted, msg, "")
}

// runStep validates and runs one step, retrying per policy. It reports whether the step
// completed.
func (e *Executor) runStep(ctx context.Context, plan *models.RemediationPlan, step *models.RemediationStep) bool {
	started := e.now()
	rec := models.ExecutionRecord{PlanID: plan.ID, ActionID: step.ID, StartedAt: started}

	if check := e.validator.ValidateAction(plan, step); !check.IsValid {
		_ = step.Transition(models.StatusInProgress, started)
		_ = step.Transition(models.StatusFailed, e.now())
		step.Error = check.Summary()
		step.Message = "action failed validation"
		rec.Status, rec.EndedAt, rec.Error = step.Status, step.EndedAt, step.Error
		e.tracker.record(rec)
		e.tracker.publish(plan)
		e.recordStep(plan, step, 0, 0, false)
		return false
	}

	handler, ok := e.handlers.Get(step.Action)
	if !ok {
		_ = step.Transition(models.StatusInProgress, started)
		_ = step.Transition(models.StatusFailed, e.now())
		step.Error = fmt.Sprintf("no handler registered for action %q", step.Action)
		step.Message = "action has no handler"
		rec.Status, rec.EndedAt, rec.Error = step.Status, step.EndedAt, step.Error
		e.tracker.record(rec)
		e.tracker.publish(plan)
		e.recordStep(plan, step, 0, 0, false)
		return false
	}
	maxRetries := plan.MaxRetries
	if step.MaxRetries != nil {
		maxRetries = *step.MaxRetries
	}
	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = e.opts.DefaultActionTimeout
	}

	_ = step.Transition(models.StatusInProgress, started)
	rec.Status = models.StatusInProgress
	e.tracker.record(rec)
	e.tracker.publish(plan)

	attempt := 0
	for {
		attempt++
		rec.Attempts = attempt
		res, timedOut, err := e.attempt(ctx, plan, step, handler, attempt, timeout, false)
		if err == nil {
			_ = step.Transition(models.StatusCompleted, e.now())
			step.Message = res.Message
			if step.Message == "" {
				step.Message = "completed"
			}
			step.Error = ""
			break
		}

		step.Error = err.Error()
		if timedOut {
			_ = step.Transition(models.StatusTimedOut, e.now())
			step.Message = fmt.Sprintf("timed out after %s", timeout)
			break
		}
		if attempt > maxRetries || ctx.Err() != nil {
			_ = step.Transition(models.StatusFailed, e.now())
			step.Message = fmt.Sprintf("failed after %d attempts", attempt)
			break
		}

		_ = step.Transition(models.StatusRetrying, e.now())
		step.RetryCount++
		step.Message = fmt.Sprintf("retrying after attempt %d", attempt)
		rec.Status, rec.Error = models.StatusRetrying, step.Error
		e.tracker.record(rec)
		e.tracker.publish(plan)
		e.logger.Info("retrying action",
			slog.String("plan_id", plan.ID),
			slog.String("step_id", step.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if err := e.sleep(ctx, plan.RetryDelay); err != nil {
			_ = step.Transition(models.StatusFailed, e.now())
			step.Message = "retry aborted"
			break
		}
		_ = step.Transition(models.StatusInProgress, e.now())
	}

	rec.Status, rec.EndedAt, rec.Error = step.Status, step.EndedAt, step.Error
	e.tracker.record(rec)
	e.tracker.publish(plan)
	e.recordStep(plan, step, attempt, step.EndedAt.Sub(started), false)
	return step.Status == models.StatusCompleted
}

// attempt runs a handler once under the action timeout.
func (e *Executor) attempt(ctx context.Context, plan *models.RemediationPlan, step *models.RemediationStep, handler actions.Handler, n int, timeout time.Duration, rollback bool) (actions.Result, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attemptCtx, span := e.tracer.Start(attemptCtx, "remediation.Action",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.String("step.id", step.ID),
			attribute.String("step.action", step.Action),
			attribute.Int("step.attempt", n),
			attribute.Bool("step.rollback", rollback),
		),
	)
	defer span.End()

	res, err := handler.Execute(attemptCtx, actions.Request{
		PlanID:     plan.ID,
		StepID:     step.ID,
		StepName:   step.Name,
		Parameters: step.Parameters,
		Attempt:    n,
		Rollback:   rollback,
	})
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return res, false, nil
	}
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return res, timedOut, err
}

func (e *Executor) skipStep(plan *models.RemediationPlan, step *models.RemediationStep, reason string) {
	now := e.now()
	_ = step.Transition(models.StatusCancelled, now)
	step.Message = reason
	e.tracker.record(models.ExecutionRecord{
		PlanID: plan.ID, ActionID: step.ID, Status: step.Status, StartedAt: now, EndedAt: now, Error: reason,
	})
	e.tracker.publish(plan)
}

func (e *Executor) cancelPlan(span trace.Span, result models.ExecutionResult, plan *models.RemediationPlan, executed []string) models.ExecutionResult {
	now := e.now()
	for i := range plan.Steps {
		if plan.Steps[i].Status == models.StatusNotStarted {
			_ = plan.Steps[i].Transition(models.StatusCancelled, now)
			plan.Steps[i].Message = "plan cancelled"
		}
	}
	_ = plan.Transition(models.StatusCancelled, now)
	plan.Message = fmt.Sprintf("cancelled after %d steps", len(executed))
	e.tracker.publish(plan)
	span.SetStatus(codes.Error, "cancelled")
	result.Executed = executed
	return e.finish(result, plan, models.StatusCancelled, plan.Message, "")
}

// failPlan rolls back executed steps when a rollback plan is available and ends the plan
// Failed. Plan-level timeouts land here too; TimedOut is reserved for actions.
func (e *Executor) failPlan(ctx context.Context, span trace.Span, result models.ExecutionResult, plan *models.RemediationPlan, executed []string, failedStep, errMsg string) models.ExecutionResult {
	const final = models.StatusFailed
	msg := "plan failed"
	switch {
	case failedStep != "":
		msg = fmt.Sprintf("step %s failed", failedStep)
	case errMsg != "":
		msg = errMsg
	}
	if plan.Rollback.IsAvailable() {
		status := e.rollback(ctx, plan, executed)
		result.Rollback = &status
		if status.Succeeded() {
			msg += fmt.Sprintf("; rolled back %d steps", len(status.RolledBackSteps))
		} else {
			msg += fmt.Sprintf("; rollback incomplete (%d failed)", len(status.FailedActions))
		}
	}
	_ = plan.Transition(final, e.now())
	plan.Message = msg
	plan.Error = errMsg
	if plan.Error == "" {
		plan.Error = msg
	}
	e.tracker.publish(plan)
	span.SetStatus(codes.Error, msg)
	result.Executed = executed
	return e.finish(result, plan, final, msg, plan.Error)
}

// rollback runs the plan's rollback steps once, covering executed steps in the configured
// order. Rollback steps not bound to a forward step run last.
func (e *Executor) rollback(ctx context.Context, plan *models.RemediationPlan, executed []string) models.StepRollbackStatus {
	rb := plan.Rollback
	rb.Triggered = true
	status := models.StepRollbackStatus{Errors: map[string]string{}}

	covered := append([]string(nil), executed...)
	if rb.Order != models.RollbackForward {
		for i, j := 0, len(covered)-1; i < j; i, j = i+1, j-1 {
			covered[i], covered[j] = covered[j], covered[i]
		}
	}
	var queue []*models.RemediationStep
	for _, id := range covered {
		for i := range rb.Steps {
			if rb.Steps[i].ForStepID == id {
				queue = append(queue, &rb.Steps[i])
			}
		}
	}
	for i := range rb.Steps {
		if rb.Steps[i].ForStepID == "" {
			queue = append(queue, &rb.Steps[i])
		}
	}

	// Rollback must run even when the caller's context has been cancelled.
	rctx := context.WithoutCancel(ctx)
	e.logger.Warn("rolling back plan", slog.String("plan_id", plan.ID), slog.Int("steps", len(queue)))

	for _, step := range queue {
		started := e.now()
		rec := models.ExecutionRecord{PlanID: plan.ID, ActionID: step.ID, StartedAt: started, Attempts: 1, Rollback: true}
		_ = step.Transition(models.StatusInProgress, started)

		var err error
		handler, ok := e.handlers.Get(step.Action)
		if !ok {
			err = fmt.Errorf("no handler registered for action %q", step.Action)
		} else {
			timeout := time.Duration(step.TimeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = e.opts.DefaultActionTimeout
			}
			_, _, err = e.attempt(rctx, plan, step, handler, 1, timeout, true)
		}

		if err != nil {
			_ = step.Transition(models.StatusFailed, e.now())
			step.Error = err.Error()
			step.Message = "rollback failed"
			status.FailedActions = append(status.FailedActions, step.ID)
			status.Errors[step.ID] = err.Error()
		} else {
			_ = step.Transition(models.StatusCompleted, e.now())
			step.Message = "rollback completed"
			compensated := step.ID
			if fwd := plan.Step(step.ForStepID); fwd != nil {
				if err := fwd.Transition(models.StatusRolledBack, e.now()); err == nil {
					fwd.Message = "rolled back"
				}
				compensated = fwd.ID
			}
			status.RolledBackSteps = append(status.RolledBackSteps, compensated)
		}

		rec.Status, rec.EndedAt, rec.Error = step.Status, step.EndedAt, step.Error
		e.tracker.record(rec)
		e.tracker.publish(plan)
		e.recordStep(plan, step, 1, step.EndedAt.Sub(started), true)
	}
	if len(status.Errors) == 0 {
		status.Errors = nil
	}
	return status
}

func (e *Executor) finish(result models.ExecutionResult, plan *models.RemediationPlan, status models.Status, msg, errMsg string) models.ExecutionResult {
	result.Status = status
	result.Message = msg
	result.Error = errMsg
	result.EndedAt = e.now()

	if models.IsFailure(status) && result.Error == "" {
		result.Error = msg
	}
	e.recordPlan(plan, result)
	e.logger.Info("remediation plan finished",
		slog.String("plan_id", plan.ID),
		slog.String("status", string(status)),
		slog.String("message", msg),
		slog.Duration("duration", result.EndedAt.Sub(result.StartedAt)),
	)
	return result
}

func (e *Executor) recordStep(plan *models.RemediationPlan, step *models.RemediationStep, attempts int, d time.Duration, rollback bool) {
	if e.metrics == nil {
		return
	}
	err := e.metrics.RecordStepMetrics(models.StepMetrics{
		PlanID:   plan.ID,
		StepID:   step.ID,
		StepType: step.Type,
		Status:   step.Status,
		Attempts: attempts,
		Duration: d,
		Rollback: rollback,
	})
	if err != nil {
		e.logger.Warn("step metrics not recorded", slog.String("step_id", step.ID), slog.Any("error", err))
	}
}

func (e *Executor) recordPlan(plan *models.RemediationPlan, result models.ExecutionResult) {
	if e.metrics == nil {
		return
	}
	m := models.RemediationMetrics{
		PlanID:       plan.ID,
		StrategyName: plan.StrategyName,
		Status:       result.Status,
		Risk:         plan.Risk.Level,
		StepsTotal:   len(plan.Steps),
		Duration:     result.EndedAt.Sub(result.StartedAt),
	}
	for _, s := range plan.Steps {
		switch s.Status {
		case models.StatusCompleted:
			m.StepsCompleted++
		case models.StatusFailed, models.StatusTimedOut:
			m.StepsFailed++
		}
	}
	if result.Rollback != nil {
		m.RollbackStarted = true
		m.RollbackFailed = len(result.Rollback.FailedActions)
	}
	if err := e.metrics.RecordRemediationMetrics(m); err != nil {
		e.logger.Warn("remediation metrics not recorded", slog.String("plan_id", plan.ID), slog.Any("error", err))
	}
}

// blockedBy returns the first dependency of step that ended without completing.
func blockedBy(plan *models.RemediationPlan, step *models.RemediationStep) string {
	for _, dep := range step.DependsOn {
		other := plan.Step(dep)
		if other == nil {
			continue
		}
		switch other.Status {
		case models.StatusFailed, models.StatusTimedOut, models.StatusCancelled:
			return dep
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
