package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-remediation/internal/api"
	"github.com/miradorstack/mirador-remediation/internal/engine"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/patterns"
	"github.com/miradorstack/mirador-remediation/internal/plan"
)

const recentOutcomeLimit = 10

// Catalog reports what the engine can run.
type Catalog interface {
	Names() []string
}

// OutcomeHistory lists recently recorded outcomes, newest first.
type OutcomeHistory interface {
	Recent(limit int) []models.RemediationOutcome
}

// RemediationService implements the gRPC RemediationEngine service on top of the
// orchestrator.
type RemediationService struct {
	logger     *slog.Logger
	orch       *engine.Orchestrator
	plans      *plan.Manager
	tracker    *executor.Tracker
	strategies Catalog
	actions    Catalog
	history    OutcomeHistory
	miner      *patterns.Miner
}

// ServiceDeps groups the collaborators of a RemediationService. Strategies, Actions,
// History and Patterns only feed HealthCheck and may be nil.
type ServiceDeps struct {
	Orchestrator *engine.Orchestrator
	Plans        *plan.Manager
	Tracker      *executor.Tracker
	Strategies   Catalog
	Actions      Catalog
	History      OutcomeHistory
	Patterns     *patterns.Miner
}

// NewRemediationService constructs the service facade.
func NewRemediationService(logger *slog.Logger, deps ServiceDeps) *RemediationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationService{
		logger:     logger,
		orch:       deps.Orchestrator,
		plans:      deps.Plans,
		tracker:    deps.Tracker,
		strategies: deps.Strategies,
		actions:    deps.Actions,
		history:    deps.History,
		miner:      deps.Patterns,
	}
}

var _ api.RemediationEngineServer = (*RemediationService)(nil)

// Analyze ranks strategies for an incident. Invalid analyses are returned, not raised.
func (s *RemediationService) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.AnalyzeRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	errCtx := api.NormalizeErrorContext(req.ErrorContext)
	s.logger.Debug("Analyze called", slog.String("correlation_id", errCtx.CorrelationID), slog.String("error_type", errCtx.ErrorType))

	result := s.orch.Analyze(ctx, errCtx)
	return encode(api.AnalyzeResponse{Analysis: result})
}

// Remediate plans an incident and runs the plan unless it waits for approval. Without
// wait the run continues in the background and the response carries the plan only.
func (s *RemediationService) Remediate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.RemediateRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	errCtx := api.NormalizeErrorContext(req.ErrorContext)

	p, analysis, err := s.orch.Plan(ctx, errCtx)
	if err != nil {
		s.logger.Warn("remediation planning failed", slog.String("correlation_id", errCtx.CorrelationID), slog.Any("error", err))
		return nil, toStatus(err)
	}
	resp := api.RemediateResponse{Plan: p, Analysis: analysis}
	if p.Status == models.StatusWaitingForApproval {
		return encode(resp)
	}

	if req.Wait {
		result, err := s.orch.Run(ctx, p.ID)
		if err != nil {
			return nil, toStatus(err)
		}
		resp.Result = &result
		if snap, err := s.orch.GetPlan(p.ID); err == nil {
			resp.Plan = snap
		}
		return encode(resp)
	}

	if err := s.orch.Start(ctx, p.ID); err != nil {
		return nil, toStatus(err)
	}
	return encode(resp)
}

// ApprovePlan approves or rejects a waiting plan, optionally starting it on approval.
func (s *RemediationService) ApprovePlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ApproveRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.plans == nil {
		return nil, status.Error(codes.FailedPrecondition, "plan manager not configured")
	}

	if req.Reject {
		p, err := s.plans.Reject(req.PlanID, req.Reason)
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(api.PlanResponse{Plan: p})
	}

	p, err := s.plans.Approve(req.PlanID, req.Approver)
	if err != nil {
		return nil, toStatus(err)
	}
	if req.Start {
		if s.orch == nil {
			return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
		}
		if err := s.orch.Start(ctx, p.ID); err != nil {
			return nil, toStatus(err)
		}
	}
	return encode(api.PlanResponse{Plan: p})
}

// CancelPlan cancels a plan before or during execution.
func (s *RemediationService) CancelPlan(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.CancelRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	p, err := s.orch.Cancel(req.PlanID, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(api.PlanResponse{Plan: p})
}

// GetPlan returns the latest snapshot of a plan.
func (s *RemediationService) GetPlan(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.GetPlanRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	p, err := s.orch.GetPlan(req.PlanID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(api.PlanResponse{Plan: p})
}

// GetActionStatus returns the execution record of one action.
func (s *RemediationService) GetActionStatus(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ActionStatusRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.tracker == nil {
		return nil, status.Error(codes.FailedPrecondition, "execution tracker not configured")
	}
	rec, ok := s.tracker.GetActionStatus(req.PlanID, req.ActionID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no execution of action %s in plan %s", req.ActionID, req.PlanID)
	}
	return encode(api.ActionStatusResponse{Record: rec})
}

// ListExecutions returns execution records, for one plan or all plans.
func (s *RemediationService) ListExecutions(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ListExecutionsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.tracker == nil {
		return nil, status.Error(codes.FailedPrecondition, "execution tracker not configured")
	}
	var records []models.ExecutionRecord
	if req.PlanID != "" {
		records = s.tracker.GetPlanExecutions(req.PlanID)
	} else {
		records = s.tracker.GetAllExecutions()
	}
	return encode(api.ListExecutionsResponse{Records: records})
}

// HealthCheck returns the current health state.
func (s *RemediationService) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := api.HealthResponse{Status: "SERVING"}
	if s.strategies != nil {
		resp.Strategies = len(s.strategies.Names())
	}
	if s.actions != nil {
		resp.Actions = len(s.actions.Names())
	}
	if s.orch != nil {
		resp.Latency = s.orch.Latency()
	}
	if s.history != nil {
		history := s.history.Recent(0)
		for i, o := range history {
			if i == recentOutcomeLimit {
				break
			}
			resp.RecentOutcomes = append(resp.RecentOutcomes, fmt.Sprintf("%s:%s", o.PlanID, o.Status))
		}
		if s.miner != nil {
			resp.Patterns = s.miner.Mine(ctx, history)
		}
	}
	return encode(resp)
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, plan.ErrPlanNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, engine.ErrRemediationInProgress):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, engine.ErrAnalysisFailed),
		errors.Is(err, plan.ErrNoRecommendation),
		errors.Is(err, plan.ErrInvalidPlan),
		errors.Is(err, plan.ErrNotAwaiting),
		errors.Is(err, plan.ErrNotApproved),
		errors.Is(err, plan.ErrPlanHandedOff),
		errors.Is(err, models.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
