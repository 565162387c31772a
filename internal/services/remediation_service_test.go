package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-remediation/internal/actions"
	"github.com/miradorstack/mirador-remediation/internal/advisory"
	"github.com/miradorstack/mirador-remediation/internal/api"
	"github.com/miradorstack/mirador-remediation/internal/config"
	"github.com/miradorstack/mirador-remediation/internal/engine"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/patterns"
	"github.com/miradorstack/mirador-remediation/internal/plan"
	"github.com/miradorstack/mirador-remediation/internal/repo"
	"github.com/miradorstack/mirador-remediation/internal/strategy"
	"github.com/miradorstack/mirador-remediation/internal/validation"
)

const testCatalog = `strategies:
  - name: Monitor
    version: 1.0.0
    priority: 1
    errorTypes: [Timeout]
    steps:
      - id: notify
        type: execution
        action: log
        parameters:
          target: ${source}
  - name: Backup
    version: 1.0.0
    priority: 3
    errorTypes: [Timeout]
    steps:
      - id: snapshot
        type: execution
        action: log
`

func newTestService(t *testing.T) (*RemediationService, *repo.OutcomeStore) {
	t.Helper()
	reg := strategy.NewRegistry(nil)
	defs, err := strategy.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	_, err = strategy.RegisterCatalog(reg, defs, nil)
	require.NoError(t, err)

	handlers := actions.NewRegistry()
	actions.RegisterBuiltins(handlers, nil, time.Second)
	v := validation.New(handlers, nil)
	plans := plan.NewManager(reg, nil, v, plan.DefaultOptions(), nil)
	exec := executor.New(handlers, v, nil, nil, executor.Options{}, nil)
	outcomes := repo.NewOutcomeStore("", "", "", 0, 16)

	orch, err := engine.NewOrchestrator(engine.Dependencies{
		Advisory: advisory.StaticClient{Scores: map[string]float64{"Monitor": 0.8, "Backup": 0.4}},
		Analyzer: engine.NewRemediationAnalyzer(reg, engine.AnalyzerOptions{}, nil),
		Plans:    plans,
		Executor: exec,
		Outcomes: outcomes,
	}, engine.OrchestratorOptions{}, nil)
	require.NoError(t, err)

	svc := NewRemediationService(nil, ServiceDeps{
		Orchestrator: orch,
		Plans:        plans,
		Tracker:      exec.Tracker(),
		Strategies:   reg,
		Actions:      handlers,
		History:      outcomes,
		Patterns:     patterns.NewMiner(nil, nil, 0),
	})
	return svc, outcomes
}

func startServer(t *testing.T, svc api.RemediationEngineServer) *api.Client {
	t.Helper()
	srv, err := api.NewServer(config.ServerConfig{Address: "127.0.0.1:0"}, svc, nil)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return api.NewClient(conn)
}

func incident(correlationID string, severity models.Severity) models.ErrorContext {
	return models.ErrorContext{
		ErrorType:       "Timeout",
		Message:         "checkout timed out",
		SourceComponent: "OrderService",
		Severity:        severity,
		Scope:           models.ScopeService,
		ComponentGraph:  map[string][]string{"OrderService": {"PaymentService"}},
		ComponentMetrics: map[string]map[string]float64{
			"OrderService": {models.MetricErrorRate: 0.2},
		},
		CorrelationID: correlationID,
	}
}

func TestRemediationEngineOverGRPC(t *testing.T) {
	svc, outcomes := newTestService(t)
	client := startServer(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var analyzed api.AnalyzeResponse
	require.NoError(t, client.Call(ctx, api.MethodAnalyze, api.AnalyzeRequest{ErrorContext: incident("corr-a", models.SeverityHigh)}, &analyzed))
	require.True(t, analyzed.Analysis.Valid, analyzed.Analysis.ErrorMessage)
	require.Len(t, analyzed.Analysis.Recommendations, 2)
	assert.Equal(t, "Monitor", analyzed.Analysis.Recommendations[0].StrategyName)
	assert.InDelta(t, 0.656, analyzed.Analysis.Recommendations[0].Confidence, 1e-9)

	var waiting api.RemediateResponse
	require.NoError(t, client.Call(ctx, api.MethodRemediate, api.RemediateRequest{ErrorContext: incident("corr-a", models.SeverityHigh), Wait: true}, &waiting))
	require.NotNil(t, waiting.Plan)
	assert.Equal(t, models.StatusWaitingForApproval, waiting.Plan.Status)
	assert.Nil(t, waiting.Result)

	err := client.Call(ctx, api.MethodGetActionStatus, api.ActionStatusRequest{PlanID: waiting.Plan.ID, ActionID: "notify"}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))

	var approved api.PlanResponse
	require.NoError(t, client.Call(ctx, api.MethodApprovePlan, api.ApproveRequest{PlanID: waiting.Plan.ID, Approver: "oncall"}, &approved))
	assert.True(t, approved.Plan.Approved)
	assert.Equal(t, "approved by oncall", approved.Plan.Message)

	var cancelled api.PlanResponse
	require.NoError(t, client.Call(ctx, api.MethodCancelPlan, api.CancelRequest{PlanID: waiting.Plan.ID, Reason: "false alarm"}, &cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled.Plan.Status)

	var done api.RemediateResponse
	require.NoError(t, client.Call(ctx, api.MethodRemediate, api.RemediateRequest{ErrorContext: incident("corr-b", models.SeverityLow), Wait: true}, &done))
	require.NotNil(t, done.Result)
	assert.Equal(t, models.StatusCompleted, done.Result.Status)
	assert.Equal(t, models.StatusCompleted, done.Plan.Status)

	var record api.ActionStatusResponse
	require.NoError(t, client.Call(ctx, api.MethodGetActionStatus, api.ActionStatusRequest{PlanID: done.Plan.ID, ActionID: "notify"}, &record))
	assert.Equal(t, models.StatusCompleted, record.Record.Status)
	assert.Equal(t, 1, record.Record.Attempts)

	var listed api.ListExecutionsResponse
	require.NoError(t, client.Call(ctx, api.MethodListExecutions, api.ListExecutionsRequest{PlanID: done.Plan.ID}, &listed))
	require.Len(t, listed.Records, 1)
	assert.Equal(t, "notify", listed.Records[0].ActionID)

	var fetched api.PlanResponse
	require.NoError(t, client.Call(ctx, api.MethodGetPlan, api.GetPlanRequest{PlanID: done.Plan.ID}, &fetched))
	assert.Equal(t, models.StatusCompleted, fetched.Plan.Status)

	var health api.HealthResponse
	require.NoError(t, client.Call(ctx, api.MethodHealthCheck, struct{}{}, &health))
	assert.Equal(t, "SERVING", health.Status)
	assert.Equal(t, 2, health.Strategies)
	assert.Equal(t, 3, health.Actions)
	assert.Equal(t, 1, health.Latency.Count)
	assert.Equal(t, []string{done.Plan.ID + ":completed"}, health.RecentOutcomes)
	assert.Len(t, outcomes.Recent(10), 1)
	require.Len(t, health.Patterns, 1)
	assert.Equal(t, "Monitor", health.Patterns[0].Strategy)
	assert.Equal(t, 1.0, health.Patterns[0].SuccessRate)
}

func TestRemediationEngineErrorCodes(t *testing.T) {
	svc, _ := newTestService(t)
	client := startServer(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := client.Call(ctx, api.MethodGetPlan, api.GetPlanRequest{PlanID: "missing"}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = client.Call(ctx, api.MethodGetPlan, api.GetPlanRequest{}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	unsupported := incident("corr-c", models.SeverityLow)
	unsupported.ErrorType = "DiskFull"
	err = client.Call(ctx, api.MethodRemediate, api.RemediateRequest{ErrorContext: unsupported}, nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	var waiting api.RemediateResponse
	require.NoError(t, client.Call(ctx, api.MethodRemediate, api.RemediateRequest{ErrorContext: incident("corr-d", models.SeverityHigh)}, &waiting))
	err = client.Call(ctx, api.MethodApprovePlan, api.ApproveRequest{PlanID: waiting.Plan.ID, Reject: true, Reason: "not now"}, nil)
	require.NoError(t, err)
	err = client.Call(ctx, api.MethodApprovePlan, api.ApproveRequest{PlanID: waiting.Plan.ID, Approver: "oncall"}, nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "rejected plans cannot be approved")
}

func TestAnalyzeReturnsInvalidResultsAsValues(t *testing.T) {
	svc, _ := newTestService(t)
	in, err := api.Encode(api.AnalyzeRequest{ErrorContext: models.ErrorContext{ErrorType: "Timeout"}})
	require.NoError(t, err)

	out, err := svc.Analyze(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.GetFields()["analysis"].GetStructValue().GetFields()["valid"].GetBoolValue())
	assert.Equal(t, string(models.FailureInvalidContext),
		out.GetFields()["analysis"].GetStructValue().GetFields()["failure"].GetStringValue())

	_, err = svc.Analyze(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestToStatusMapsDomainErrors(t *testing.T) {
	cases := map[error]codes.Code{
		plan.ErrPlanNotFound:            codes.NotFound,
		engine.ErrRemediationInProgress: codes.AlreadyExists,
		plan.ErrNotApproved:             codes.FailedPrecondition,
		models.ErrInvalidTransition:     codes.FailedPrecondition,
		context.DeadlineExceeded:        codes.DeadlineExceeded,
		&engine.AnalysisError{}:         codes.FailedPrecondition,
		assert.AnError:                  codes.Internal,
	}
	for err, want := range cases {
		assert.Equal(t, want, status.Code(toStatus(err)), err.Error())
	}
}
