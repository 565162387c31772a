package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/risk"
	"github.com/miradorstack/mirador-remediation/internal/strategy"
	"github.com/miradorstack/mirador-remediation/internal/validation"
)

var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrNoRecommendation = errors.New("analysis has no recommendation")
	ErrInvalidPlan      = errors.New("plan failed validation")
	ErrPlanHandedOff    = errors.New("plan is owned by the executor")
	ErrNotAwaiting      = errors.New("plan is not waiting for approval")
	ErrNotApproved      = errors.New("plan requires approval")
)

// ValidationError carries the itemised result of a failed plan validation.
type ValidationError struct {
	PlanID string
	Result models.ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan %s: %s", e.PlanID, e.Result.Summary())
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPlan }

// StrategyLookup resolves a registered strategy by name and version.
type StrategyLookup interface {
	Get(name, version string) (strategy.Registration, error)
}

// Options configures plan defaults.
type Options struct {
	// Plans at or above this risk level require approval.
	ApprovalThreshold    models.RiskLevel
	DefaultMaxRetries    int
	DefaultRetryDelay    time.Duration
	DefaultTimeout       time.Duration
	ActionTimeoutSeconds int
	MaxAlternatives      int
	// Finished plans (handed off, cancelled or rejected) remembered before the oldest
	// are forgotten.
	Retention            int
}

// DefaultOptions mirrors the engine defaults.
func DefaultOptions() Options {
	return Options{
		ApprovalThreshold:    models.RiskHigh,
		DefaultMaxRetries:    3,
		DefaultRetryDelay:    5 * time.Second,
		DefaultTimeout:       30 * time.Minute,
		ActionTimeoutSeconds: 300,
		MaxAlternatives:      3,
		Retention:            4096,
	}
}

// Manager builds plans from ranked recommendations and owns them until they are handed to
// the executor. Approval, rejection and cancellation of owned plans go through it.
type Manager struct {
	mu        sync.RWMutex
	plans     map[string]*models.RemediationPlan
	handedOff map[string]struct{}
	retired   []string

	strategies StrategyLookup
	assessor   *risk.Assessor
	validator  *validation.Validator
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewManager constructs a Manager.
func NewManager(strategies StrategyLookup, assessor *risk.Assessor, validator *validation.Validator, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if assessor == nil {
		assessor = risk.NewAssessor()
	}
	if validator == nil {
		validator = validation.New(nil, logger)
	}
	defaults := DefaultOptions()
	if opts.ApprovalThreshold == models.RiskNone {
		opts.ApprovalThreshold = defaults.ApprovalThreshold
	}
	if opts.DefaultMaxRetries < 0 {
		opts.DefaultMaxRetries = 0
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaults.DefaultTimeout
	}
	if opts.ActionTimeoutSeconds <= 0 {
		opts.ActionTimeoutSeconds = defaults.ActionTimeoutSeconds
	}
	if opts.Retention <= 0 {
		opts.Retention = defaults.Retention
	}
	return &Manager{
		plans:      make(map[string]*models.RemediationPlan),
		handedOff:  make(map[string]struct{}),
		strategies: strategies,
		assessor:   assessor,
		validator:  validator,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
}

// CreatePlan builds a plan from the top recommendation of analysis. Plans that fail
// validation are not stored and come back as a *ValidationError.
func (m *Manager) CreatePlan(ctx context.Context, errCtx models.ErrorContext, analysis models.AnalysisResult) (*models.RemediationPlan, error) {
	top, ok := analysis.Top()
	if !ok {
		return nil, ErrNoRecommendation
	}
	reg, err := m.strategies.Get(top.StrategyName, top.Version)
	if err != nil {
		return nil, fmt.Errorf("resolve strategy: %w", err)
	}
	bp, err := reg.Strategy.Blueprint(ctx, errCtx)
	if err != nil {
		return nil, fmt.Errorf("strategy %s blueprint: %w", reg.Metadata.Name, err)
	}

	now := m.now()
	p := &models.RemediationPlan{
		ID:              m.newID(),
		StrategyName:    reg.Metadata.Name,
		StrategyVersion: reg.Metadata.Version,
		CorrelationID:   errCtx.CorrelationID,
		ErrorType:       errCtx.ErrorType,
		SourceComponent: errCtx.SourceComponent,
		Confidence:      top.Confidence,
		Description:     bp.Description,
		Status:          models.StatusNotStarted,
		Timeout:         bp.Timeout,
		RetryDelay:      bp.RetryDelay,
		MaxRetries:      m.opts.DefaultMaxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Description == "" {
		p.Description = reg.Metadata.Description
	}
	if p.Timeout <= 0 {
		p.Timeout = m.opts.DefaultTimeout
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = m.opts.DefaultRetryDelay
	}
	if bp.MaxRetries != nil && *bp.MaxRetries >= 0 {
		p.MaxRetries = *bp.MaxRetries
	}

	p.Steps, p.Rollback = m.buildSteps(bp)

	p.Risk = m.assessor.Assess(&errCtx, p.Description != "", false)
	p.RequiresApproval = reg.Metadata.RequiresApproval || p.Risk.Level >= m.opts.ApprovalThreshold
	p.Alternatives = alternatives(analysis.Recommendations, m.opts.MaxAlternatives)

	result := m.validator.ValidatePlan(p, &errCtx)
	if !result.IsValid {
		m.logger.Warn("plan rejected by validation",
			slog.String("plan_id", p.ID),
			slog.String("strategy", p.StrategyName),
			slog.String("errors", result.Summary()),
		)
		return nil, &ValidationError{PlanID: p.ID, Result: result}
	}
	// Re-assess now that validation results exist.
	p.Risk = m.assessor.Assess(&errCtx, p.Description != "", true)

	if p.RequiresApproval {
		if err := p.Transition(models.StatusWaitingForApproval, now); err != nil {
			return nil, err
		}
		p.Message = fmt.Sprintf("awaiting approval: %s risk", p.Risk.Level)
	}

	m.mu.Lock()
	m.plans[p.ID] = p
	m.mu.Unlock()

	m.logger.Info("remediation plan created",
		slog.String("plan_id", p.ID),
		slog.String("strategy", p.StrategyName),
		slog.String("version", p.StrategyVersion),
		slog.String("risk", p.Risk.Level.String()),
		slog.Bool("requires_approval", p.RequiresApproval),
		slog.Int("steps", len(p.Steps)),
	)
	return p.Clone(), nil
}

func (m *Manager) buildSteps(bp strategy.Blueprint) ([]models.RemediationStep, *models.RollbackPlan) {
	steps := make([]models.RemediationStep, 0, len(bp.Steps))
	rollback := &models.RollbackPlan{Order: bp.RollbackOrder}
	if rollback.Order == "" {
		rollback.Order = models.RollbackReverse
	}

	for i, def := range bp.Steps {
		id := def.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		name := def.Name
		if name == "" {
			name = id
		}
		stepType := def.Type
		if stepType == "" {
			stepType = models.StepExecution
		}
		timeout := def.TimeoutSeconds
		if timeout <= 0 {
			timeout = m.opts.ActionTimeoutSeconds
		}
		step := models.RemediationStep{
			ID:             id,
			Name:           name,
			Type:           stepType,
			Order:          i + 1,
			DependsOn:      append([]string(nil), def.DependsOn...),
			Action:         def.Action,
			Parameters:     def.Parameters,
			Optional:       def.Optional,
			TimeoutSeconds: timeout,
			MaxRetries:     def.MaxRetries,
			Status:         models.StatusNotStarted,
		}

		if def.Rollback != nil {
			rbName := def.Rollback.Name
			if rbName == "" {
				rbName = "Roll back " + name
			}
			rbTimeout := def.Rollback.TimeoutSeconds
			if rbTimeout <= 0 {
				rbTimeout = m.opts.ActionTimeoutSeconds
			}
			rb := models.RemediationStep{
				ID:             id + "-rollback",
				Name:           rbName,
				Type:           models.StepRollback,
				Order:          i + 1,
				Action:         def.Rollback.Action,
				Parameters:     def.Rollback.Parameters,
				TimeoutSeconds: rbTimeout,
				Status:         models.StatusNotStarted,
				ForStepID:      id,
			}
			step.RollbackStepID = rb.ID
			rollback.Steps = append(rollback.Steps, rb)
		}
		steps = append(steps, step)
	}
	return steps, rollback
}

// Get returns a copy of an owned plan.
func (m *Manager) Get(id string) (*models.RemediationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		if _, gone := m.handedOff[id]; gone {
			return nil, ErrPlanHandedOff
		}
		return nil, ErrPlanNotFound
	}
	return p.Clone(), nil
}

// List returns copies of every owned plan, oldest first.
func (m *Manager) List() []*models.RemediationPlan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RemediationPlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Approve marks a waiting plan approved. The plan stays WaitingForApproval until the
// executor starts it.
func (m *Manager) Approve(id, approver string) (*models.RemediationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.ownedLocked(id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.StatusWaitingForApproval {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAwaiting, id, p.Status)
	}
	p.Approved = true
	p.UpdatedAt = m.now()
	p.Message = "approved"
	if approver != "" {
		p.Message = "approved by " + approver
	}
	m.logger.Info("remediation plan approved", slog.String("plan_id", id), slog.String("approver", approver))
	return p.Clone(), nil
}

// Reject cancels a plan that is waiting for approval.
func (m *Manager) Reject(id, reason string) (*models.RemediationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.ownedLocked(id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.StatusWaitingForApproval {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAwaiting, id, p.Status)
	}
	return m.cancelLocked(p, "rejected", reason)
}

// Cancel cancels an owned plan that has not started.
func (m *Manager) Cancel(id, reason string) (*models.RemediationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.ownedLocked(id)
	if err != nil {
		return nil, err
	}
	return m.cancelLocked(p, "cancelled", reason)
}

func (m *Manager) cancelLocked(p *models.RemediationPlan, verb, reason string) (*models.RemediationPlan, error) {
	now := m.now()
	if err := p.Transition(models.StatusCancelled, now); err != nil {
		return nil, err
	}
	for i := range p.Steps {
		if p.Steps[i].Status == models.StatusNotStarted {
			_ = p.Steps[i].Transition(models.StatusCancelled, now)
			p.Steps[i].Message = "plan " + verb
		}
	}
	p.Message = "plan " + verb
	if reason != "" {
		p.Message += ": " + reason
	}
	m.retireLocked(p.ID)
	m.logger.Info("remediation plan "+verb, slog.String("plan_id", p.ID), slog.String("reason", reason))
	return p.Clone(), nil
}

// retireLocked queues a finished plan id and forgets the oldest ones beyond Retention.
// Cancelled plans stay readable and handed-off ids keep answering ErrPlanHandedOff until
// they are forgotten.
func (m *Manager) retireLocked(id string) {
	m.retired = append(m.retired, id)
	for len(m.retired) > m.opts.Retention {
		oldest := m.retired[0]
		m.retired = m.retired[1:]
		delete(m.handedOff, oldest)
		if p, ok := m.plans[oldest]; ok && models.IsTerminal(p.Status) {
			delete(m.plans, oldest)
		}
	}
}

// Handoff releases ownership of a runnable plan to the caller (the executor). Plans
// needing approval must have been approved.
func (m *Manager) Handoff(id string) (*models.RemediationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.ownedLocked(id)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case models.StatusNotStarted:
	case models.StatusWaitingForApproval:
		if !p.Approved {
			return nil, fmt.Errorf("%w: %s", ErrNotApproved, id)
		}
	default:
		return nil, fmt.Errorf("plan %s cannot run from %s", id, p.Status)
	}
	delete(m.plans, id)
	m.handedOff[id] = struct{}{}
	m.retireLocked(id)
	return p, nil
}

func (m *Manager) ownedLocked(id string) (*models.RemediationPlan, error) {
	p, ok := m.plans[id]
	if ok {
		return p, nil
	}
	if _, gone := m.handedOff[id]; gone {
		return nil, fmt.Errorf("%w: %s", ErrPlanHandedOff, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
}

func alternatives(recs []models.StrategyRecommendation, limit int) []string {
	if len(recs) < 2 || limit <= 0 {
		return nil
	}
	out := make([]string, 0, limit)
	for _, r := range recs[1:] {
		if len(out) == limit {
			break
		}
		out = append(out, r.StrategyName)
	}
	return out
}
