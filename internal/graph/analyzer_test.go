package graph

import (
	"math"
	"reflect"
	"testing"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func orderContext() models.ErrorContext {
	return models.ErrorContext{
		ErrorType:       "Timeout",
		SourceComponent: "OrderService",
		Severity:        models.SeverityHigh,
		ComponentGraph: map[string][]string{
			"OrderService": {"PaymentService"},
		},
		ComponentMetrics: map[string]map[string]float64{
			"OrderService": {models.MetricErrorRate: 0.2},
		},
		CorrelationID: "corr-1",
	}
}

func TestAnalyzeSourceHealthDiscount(t *testing.T) {
	analysis := NewAnalyzer(nil).Analyze(orderContext())
	if !analysis.Valid {
		t.Fatalf("expected valid analysis, got %q", analysis.Message)
	}
	if h := analysis.ComponentHealth["OrderService"]; !approx(h, 0.4) {
		t.Fatalf("expected OrderService health 0.4, got %f", h)
	}
	if h := analysis.ComponentHealth["PaymentService"]; !approx(h, 1.0) {
		t.Fatalf("expected PaymentService health 1.0, got %f", h)
	}
}

func TestAnalyzeEmptyGraphIsInvalid(t *testing.T) {
	analysis := NewAnalyzer(nil).Analyze(models.ErrorContext{SourceComponent: "OrderService"})
	if analysis.Valid {
		t.Fatalf("expected invalid analysis for empty graph")
	}
	if analysis.Message != MessageNoGraphData {
		t.Fatalf("expected %q, got %q", MessageNoGraphData, analysis.Message)
	}
}

func TestComponentHealthAllDiscounts(t *testing.T) {
	ctx := models.ErrorContext{
		SourceComponent: "other",
		ComponentMetrics: map[string]map[string]float64{
			"db": {
				models.MetricErrorRate:           0.5,
				models.MetricResponseTimeMs:      500,
				models.MetricResourceUtilization: 2.0,
			},
			"cache": {
				models.MetricErrorRate:      0.1,
				models.MetricResponseTimeMs: 250,
			},
		},
	}
	if h := ComponentHealth(ctx, "db"); h != 0 {
		t.Fatalf("expected saturated utilisation to zero health, got %f", h)
	}
	if h := ComponentHealth(ctx, "cache"); !approx(h, 0.9*0.75) {
		t.Fatalf("expected 0.675, got %f", h)
	}
}

func TestRelationshipStrengthAndType(t *testing.T) {
	ctx := models.ErrorContext{
		SourceComponent: "api",
		ComponentGraph: map[string][]string{
			"api":   {"db", "queue"},
			"queue": {"worker"},
		},
		ComponentMetrics: map[string]map[string]float64{
			"api": {models.MetricErrorRate: 0.4},
			"db":  {models.MetricErrorRate: 0.1},
		},
		DependencyEdges:  []models.Edge{{Source: "api", Target: "db"}},
		ServiceCallEdges: []models.Edge{{Source: "api", Target: "queue"}},
	}

	rels := Relationships(ctx)
	if len(rels) != 3 {
		t.Fatalf("expected 3 relationships, got %d", len(rels))
	}
	byTarget := map[string]models.ComponentRelationship{}
	for _, r := range rels {
		byTarget[r.Target] = r
	}
	if r := byTarget["db"]; r.Type != models.RelationshipDirectDependency || !approx(r.Strength, 0.94) {
		t.Fatalf("unexpected api->db relationship: %+v", r)
	}
	if r := byTarget["queue"]; r.Type != models.RelationshipServiceCall || !approx(r.Strength, 0.8) {
		t.Fatalf("unexpected api->queue relationship: %+v", r)
	}
	if r := byTarget["worker"]; r.Type != models.RelationshipIndirect || !approx(r.Strength, 0.5) {
		t.Fatalf("unexpected queue->worker relationship: %+v", r)
	}
}

func TestPropagationPaths(t *testing.T) {
	prop := Propagation(orderContext())
	if !reflect.DeepEqual(prop.AffectedComponents, []string{"OrderService", "PaymentService"}) {
		t.Fatalf("unexpected affected components: %v", prop.AffectedComponents)
	}
	want := [][]string{{"OrderService"}, {"OrderService", "PaymentService"}}
	if !reflect.DeepEqual(prop.PropagationPaths, want) {
		t.Fatalf("unexpected propagation paths: %v", prop.PropagationPaths)
	}
	if s := prop.ComponentSeverity["PaymentService"]; !approx(s, 0.8) {
		t.Fatalf("expected PaymentService severity 0.8, got %f", s)
	}
	if s := prop.ComponentSeverity["OrderService"]; s != 1 {
		t.Fatalf("expected source severity clamped to 1, got %f", s)
	}
}

func TestPropagationSkipsLowSeverityInteriorNodes(t *testing.T) {
	ctx := models.ErrorContext{
		SourceComponent: "a",
		ComponentGraph: map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {"a"},
		},
	}
	prop := Propagation(ctx)
	if len(prop.AffectedComponents) != 3 {
		t.Fatalf("expected cycle to visit each node once, got %v", prop.AffectedComponents)
	}
	for _, path := range prop.PropagationPaths {
		if path[len(path)-1] == "c" {
			t.Fatalf("c has severity 0.6 and an outgoing edge; path should not be recorded: %v", path)
		}
	}
}
