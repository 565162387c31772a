package api

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func TestDecodeErrorContext(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{
		"error_context": map[string]any{
			"error_type":       "Timeout",
			"source_component": "OrderService",
			"severity":         "HIGH",
			"scope":            "service",
			"component_graph":  map[string]any{"OrderService": []any{"PaymentService"}},
			"component_metrics": map[string]any{
				"OrderService": map[string]any{"error_rate": 0.2},
			},
			"correlation_id": "corr-1",
		},
		"wait": true,
	})
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}

	var req RemediateRequest
	if err := Decode(in, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !req.Wait {
		t.Fatalf("expected wait flag")
	}
	errCtx := req.ErrorContext
	if errCtx.Severity != models.SeverityHigh || errCtx.Scope != models.ScopeService {
		t.Fatalf("unexpected levels: %v %v", errCtx.Severity, errCtx.Scope)
	}
	if got := errCtx.ComponentGraph["OrderService"]; len(got) != 1 || got[0] != "PaymentService" {
		t.Fatalf("unexpected graph: %v", errCtx.ComponentGraph)
	}
	if v, ok := errCtx.Metric("OrderService", models.MetricErrorRate); !ok || v != 0.2 {
		t.Fatalf("unexpected metric: %v %v", v, ok)
	}
	if !errCtx.Timestamp.IsZero() {
		t.Fatalf("timestamp should be unset before normalisation")
	}
	if NormalizeErrorContext(errCtx).Timestamp.IsZero() {
		t.Fatalf("normalised context should carry a timestamp")
	}
}

func TestDecodeRejectsInvalidRequests(t *testing.T) {
	if err := Decode(nil, &GetPlanRequest{}); err == nil {
		t.Fatalf("expected error for nil payload")
	}

	empty, _ := structpb.NewStruct(map[string]any{})
	if err := Decode(empty, &GetPlanRequest{}); err == nil {
		t.Fatalf("expected plan_id to be required")
	}

	approveOnly, _ := structpb.NewStruct(map[string]any{"plan_id": "p-1"})
	if err := Decode(approveOnly, &ApproveRequest{}); err == nil {
		t.Fatalf("approval without approver should fail")
	}

	reject, _ := structpb.NewStruct(map[string]any{"plan_id": "p-1", "reject": true})
	var req ApproveRequest
	if err := Decode(reject, &req); err != nil {
		t.Fatalf("rejection needs no approver: %v", err)
	}
	if !req.Reject {
		t.Fatalf("expected reject flag")
	}

	badSeverity, _ := structpb.NewStruct(map[string]any{"error_context": map[string]any{"severity": "apocalyptic"}})
	if err := Decode(badSeverity, &AnalyzeRequest{}); err == nil {
		t.Fatalf("expected unknown severity to fail")
	}
}

func TestEncodePlanKeepsDurations(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &models.RemediationPlan{
		ID:           "plan-1",
		StrategyName: "Monitor",
		Status:       models.StatusWaitingForApproval,
		Risk:         models.RiskAssessment{Level: models.RiskHigh},
		Timeout:      30 * time.Minute,
		RetryDelay:   5 * time.Second,
		CreatedAt:    created,
		Steps: []models.RemediationStep{
			{ID: "notify", Action: "log", Status: models.StatusNotStarted},
		},
	}

	out, err := Encode(PlanResponse{Plan: p})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	plan := out.GetFields()["plan"].GetStructValue()
	if plan.GetFields()["risk"].GetStructValue().GetFields()["level"].GetStringValue() != "high" {
		t.Fatalf("risk level should be encoded by name: %v", plan.GetFields()["risk"])
	}

	var back PlanResponse
	if err := decode(out, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Plan.Timeout != 30*time.Minute || back.Plan.RetryDelay != 5*time.Second {
		t.Fatalf("durations changed: %v %v", back.Plan.Timeout, back.Plan.RetryDelay)
	}
	if !back.Plan.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed: %v", back.Plan.CreatedAt)
	}
	if len(back.Plan.Steps) != 1 || back.Plan.Steps[0].ID != "notify" {
		t.Fatalf("unexpected steps: %+v", back.Plan.Steps)
	}
}

func TestServiceDescCoversEveryMethod(t *testing.T) {
	want := []string{
		MethodAnalyze, MethodRemediate, MethodApprovePlan, MethodCancelPlan,
		MethodGetPlan, MethodGetActionStatus, MethodListExecutions, MethodHealthCheck,
	}
	if len(ServiceDesc.Methods) != len(want) {
		t.Fatalf("expected %d methods, got %d", len(want), len(ServiceDesc.Methods))
	}
	for i, m := range ServiceDesc.Methods {
		if m.MethodName != want[i] {
			t.Fatalf("method %d: expected %s, got %s", i, want[i], m.MethodName)
		}
	}
	if FullMethod(MethodGetPlan) != "/mirador.remediation.v1.RemediationEngine/GetPlan" {
		t.Fatalf("unexpected full method %s", FullMethod(MethodGetPlan))
	}
}
