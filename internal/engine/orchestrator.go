package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-remediation/internal/advisory"
	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/graph"
	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/plan"
	"github.com/miradorstack/mirador-remediation/internal/repo"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

var (
	// ErrAnalysisFailed wraps invalid analysis results surfaced as errors.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrRemediationInProgress is returned when another plan is already running for the
	// same correlation id.
	ErrRemediationInProgress = errors.New("remediation already in progress")
)

// GraphSource fills in topology for incidents reported without it.
type GraphSource interface {
	FetchGraph(ctx context.Context, component, correlationID string) (repo.GraphSnapshot, error)
}

// OutcomeSink records finished remediations.
type OutcomeSink interface {
	StoreOutcome(ctx context.Context, outcome models.RemediationOutcome) error
}

// PlanExecutor runs plans handed off by the plan manager.
type PlanExecutor interface {
	Execute(ctx context.Context, p *models.RemediationPlan) models.ExecutionResult
	Cancel(planID string)
	Tracker() *executor.Tracker
}

// Dependencies groups the collaborators of an Orchestrator. Cache, GraphSource and
// Outcomes are optional.
type Dependencies struct {
	Graph       *graph.Analyzer
	Advisory    advisory.Client
	Analyzer    *RemediationAnalyzer
	Plans       *plan.Manager
	Executor    PlanExecutor
	Cache       cache.Provider
	GraphSource GraphSource
	Outcomes    OutcomeSink
}

// OrchestratorOptions tunes caching and locking.
type OrchestratorOptions struct {
	GraphTTL time.Duration
	LockTTL  time.Duration
}

// AnalysisError carries an invalid analysis result.
type AnalysisError struct {
	Result models.AnalysisResult
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Result.Failure, e.Result.ErrorMessage)
}

func (e *AnalysisError) Unwrap() error { return ErrAnalysisFailed }

// Orchestrator drives one incident from error context to executed plan: graph analysis and
// advisory scoring in parallel, ranking, planning, execution and the audit trail.
type Orchestrator struct {
	deps      Dependencies
	opts      OrchestratorOptions
	logger    *slog.Logger
	latencies *utils.LatencyTracker

	running sync.WaitGroup
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(deps Dependencies, opts OrchestratorOptions, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Advisory == nil || deps.Analyzer == nil || deps.Plans == nil || deps.Executor == nil {
		return nil, utils.NewAppError("engine.NewOrchestrator", "advisory, analyzer, plans and executor are required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Graph == nil {
		deps.Graph = graph.NewAnalyzer(logger)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryProvider()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Hour
	}
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		latencies: utils.NewLatencyTracker(1024),
	}, nil
}

// Analyze ranks the strategies applicable to errCtx. Invalid results are returned as values.
func (o *Orchestrator) Analyze(ctx context.Context, errCtx models.ErrorContext) models.AnalysisResult {
	return o.analyze(ctx, o.enrich(ctx, errCtx.Clone()))
}

func (o *Orchestrator) analyze(ctx context.Context, errCtx models.ErrorContext) models.AnalysisResult {
	if msg := ValidateContext(errCtx); msg != "" {
		result := o.deps.Analyzer.Rank(errCtx, models.GraphAnalysis{}, models.AdvisoryResponse{}, nil)
		metrics.ObserveAnalysis(false)
		return result
	}

	var (
		graphResult models.GraphAnalysis
		adv         models.AdvisoryResponse
		advErr      error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		graphResult = o.analyzeGraph(gctx, errCtx)
		return nil
	})
	g.Go(func() error {
		adv, advErr = o.deps.Advisory.Analyze(gctx, errCtx)
		if advErr == nil {
			adv = advisory.Sanitize(adv)
		}
		return nil
	})
	_ = g.Wait()

	if advErr != nil {
		o.logger.Warn("advisory analysis failed",
			slog.String("correlation_id", errCtx.CorrelationID),
			slog.Any("error", advErr),
		)
	}
	result := o.deps.Analyzer.Rank(errCtx, graphResult, adv, advErr)
	metrics.ObserveAnalysis(result.Valid)
	return result
}

// Plan analyses errCtx and builds a plan from the top recommendation. Planning sees the
// same enriched context the analysis ranked.
func (o *Orchestrator) Plan(ctx context.Context, errCtx models.ErrorContext) (*models.RemediationPlan, models.AnalysisResult, error) {
	errCtx = o.enrich(ctx, errCtx.Clone())
	analysis := o.analyze(ctx, errCtx)
	if !analysis.Valid {
		return nil, analysis, &AnalysisError{Result: analysis}
	}
	p, err := o.deps.Plans.CreatePlan(ctx, errCtx, analysis)
	if err != nil {
		return nil, analysis, err
	}
	return p, analysis, nil
}

// Run executes an owned plan to completion on the calling goroutine. Plans needing approval
// must have been approved through the plan manager first.
func (o *Orchestrator) Run(ctx context.Context, planID string) (models.ExecutionResult, error) {
	snapshot, err := o.deps.Plans.Get(planID)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	lockKey := ""
	if snapshot.CorrelationID != "" {
		lockKey = cache.LockKey(snapshot.CorrelationID)
		ok, err := o.deps.Cache.SetNX(ctx, lockKey, []byte(planID), o.opts.LockTTL)
		if err != nil {
			o.logger.Warn("remediation lock unavailable, continuing without it", slog.String("plan_id", planID), slog.Any("error", err))
			lockKey = ""
		} else if !ok {
			return models.ExecutionResult{}, fmt.Errorf("%w: correlation %s", ErrRemediationInProgress, snapshot.CorrelationID)
		}
	}

	owned, err := o.deps.Plans.Handoff(planID)
	if err != nil {
		o.release(lockKey)
		return models.ExecutionResult{}, err
	}

	start := time.Now()
	result := o.deps.Executor.Execute(ctx, owned)
	o.observe(time.Since(start))
	o.release(lockKey)
	o.record(owned, result)
	return result, nil
}

// Start hands a plan to a background goroutine. The run outlives ctx's cancellation so
// request-scoped callers can return while the plan executes; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context, planID string) error {
	p, err := o.deps.Plans.Get(planID)
	if err != nil {
		return err
	}
	if p.Status == models.StatusWaitingForApproval && !p.Approved {
		return fmt.Errorf("%w: %s", plan.ErrNotApproved, planID)
	}
	runCtx := context.WithoutCancel(ctx)
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		if _, err := o.Run(runCtx, planID); err != nil {
			o.logger.Error("background remediation failed to start", slog.String("plan_id", planID), slog.Any("error", err))
		}
	}()
	return nil
}

// Remediate runs the full flow for errCtx. Plans that need approval are returned without
// running; their result carries StatusWaitingForApproval.
func (o *Orchestrator) Remediate(ctx context.Context, errCtx models.ErrorContext) (*models.RemediationPlan, models.ExecutionResult, error) {
	p, _, err := o.Plan(ctx, errCtx)
	if err != nil {
		return nil, models.ExecutionResult{}, err
	}
	if p.Status == models.StatusWaitingForApproval {
		return p, models.ExecutionResult{PlanID: p.ID, Status: p.Status, Message: p.Message}, nil
	}
	result, err := o.Run(ctx, p.ID)
	return p, result, err
}

// Cancel stops a plan. Owned plans are cancelled outright; running plans stop before their
// next step, so the returned snapshot may still show them in progress.
func (o *Orchestrator) Cancel(planID, reason string) (*models.RemediationPlan, error) {
	p, err := o.deps.Plans.Cancel(planID, reason)
	if !errors.Is(err, plan.ErrPlanHandedOff) {
		return p, err
	}
	o.deps.Executor.Cancel(planID)
	return o.GetPlan(planID)
}

// GetPlan returns the latest view of a plan, whether still owned by the plan manager or
// already handed to the executor.
func (o *Orchestrator) GetPlan(planID string) (*models.RemediationPlan, error) {
	p, err := o.deps.Plans.Get(planID)
	if !errors.Is(err, plan.ErrPlanHandedOff) && !errors.Is(err, plan.ErrPlanNotFound) {
		return p, err
	}
	if snap, ok := o.deps.Executor.Tracker().Plan(planID); ok {
		return snap, nil
	}
	return nil, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, planID)
}

// Wait blocks until background runs started with Start have finished or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatencyP95 returns the current p95 remediation latency.
func (o *Orchestrator) LatencyP95() time.Duration {
	return o.latencies.Percentile(95)
}

// Latency summarises the recent remediation latency window.
func (o *Orchestrator) Latency() utils.LatencySummary {
	return o.latencies.Summary()
}

func (o *Orchestrator) enrich(ctx context.Context, errCtx models.ErrorContext) models.ErrorContext {
	if errCtx.HasGraph() || o.deps.GraphSource == nil || errCtx.SourceComponent == "" {
		return errCtx
	}
	snap, err := o.deps.GraphSource.FetchGraph(ctx, errCtx.SourceComponent, errCtx.CorrelationID)
	if err != nil {
		o.logger.Warn("service graph enrichment failed",
			slog.String("component", errCtx.SourceComponent),
			slog.Any("error", err),
		)
		return errCtx
	}
	return snap.Apply(errCtx)
}

func (o *Orchestrator) analyzeGraph(ctx context.Context, errCtx models.ErrorContext) models.GraphAnalysis {
	if errCtx.CorrelationID == "" || o.opts.GraphTTL <= 0 {
		return o.deps.Graph.Analyze(errCtx)
	}
	key := cache.GraphKey(errCtx.CorrelationID)
	var cached models.GraphAnalysis
	if err := cache.GetJSON(ctx, o.deps.Cache, key, &cached); err == nil {
		return cached
	}
	result := o.deps.Graph.Analyze(errCtx)
	if result.Valid {
		if err := cache.SetJSON(ctx, o.deps.Cache, key, result, o.opts.GraphTTL); err != nil {
			o.logger.Debug("graph analysis not cached", slog.String("key", key), slog.Any("error", err))
		}
	}
	return result
}

func (o *Orchestrator) release(lockKey string) {
	if lockKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.deps.Cache.Del(ctx, lockKey); err != nil {
		o.logger.Warn("remediation lock not released", slog.String("key", lockKey), slog.Any("error", err))
	}
}

func (o *Orchestrator) observe(d time.Duration) {
	o.latencies.Observe(d)
	if total := o.latencies.Total(); total%20 == 0 {
		o.logger.Info("remediation latency", slog.Duration("p95", o.latencies.Percentile(95)), slog.Int("samples", total))
	}
}

func (o *Orchestrator) record(p *models.RemediationPlan, result models.ExecutionResult) {
	if o.deps.Outcomes == nil {
		return
	}
	outcome := models.RemediationOutcome{
		PlanID:          p.ID,
		CorrelationID:   p.CorrelationID,
		ErrorType:       p.ErrorType,
		SourceComponent: p.SourceComponent,
		StrategyName:    p.StrategyName,
		StrategyVersion: p.StrategyVersion,
		Confidence:      p.Confidence,
		Risk:            p.Risk.Level,
		Status:          result.Status,
		Message:         result.Message,
		Error:           result.Error,
		Result:          result,
		RecordedAt:      time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.deps.Outcomes.StoreOutcome(ctx, outcome); err != nil {
		o.logger.Warn("remediation outcome not recorded", slog.String("plan_id", p.ID), slog.Any("error", err))
	}
}
