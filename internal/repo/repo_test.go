package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// stubTransport answers every request of a test client in-process.
type stubTransport func(*http.Request) (*http.Response, error)

func (f stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestFetchGraphCachesResults(t *testing.T) {
	hits := 0
	client := NewCoreGraphClient("https://core.test/base", "/api/v1/service-graph", "k", time.Second, cache.NewMemoryProvider(), time.Minute, nil)
	client.httpClient = &http.Client{Transport: stubTransport(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/base/api/v1/service-graph" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer k" {
			t.Fatalf("unexpected auth header %q", got)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"edges": []map[string]string{{"source": "OrderService", "target": "Database"}},
			"nodes": []map[string]any{
				{"name": "OrderService", "metrics": map[string]float64{"error_rate": 0.3}},
				{"name": "Database", "metrics": map[string]float64{"response_time_ms": 900}},
			},
		}), nil
	})}

	ctx := context.Background()
	snap, err := client.FetchGraph(ctx, "OrderService", "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := snap.ComponentGraph["OrderService"]; len(got) != 1 || got[0] != "Database" {
		t.Fatalf("unexpected graph %+v", snap.ComponentGraph)
	}
	if snap.ComponentMetrics["Database"]["response_time_ms"] != 900 {
		t.Fatalf("unexpected metrics %+v", snap.ComponentMetrics)
	}

	if _, err := client.FetchGraph(ctx, "OrderService", "corr-1"); err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
}

func TestFetchGraphErrors(t *testing.T) {
	unconfigured := NewCoreGraphClient("", "/graph", "", time.Second, nil, 0, nil)
	if _, err := unconfigured.FetchGraph(context.Background(), "a", "b"); err == nil {
		t.Fatalf("expected error without base URL")
	}

	client := NewCoreGraphClient("https://core.test", "/graph", "", time.Second, nil, 0, nil)
	client.httpClient = &http.Client{Transport: stubTransport(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{"edges": []any{}}), nil
	})}
	if _, err := client.FetchGraph(context.Background(), "a", "b"); err == nil {
		t.Fatalf("expected error for empty graph")
	}
}

func TestGraphSnapshotApplyKeepsCallerData(t *testing.T) {
	snap := GraphSnapshot{
		ComponentGraph:   map[string][]string{"A": {"B"}},
		ComponentMetrics: map[string]map[string]float64{"A": {"error_rate": 0.5}},
	}
	own := models.ErrorContext{ComponentMetrics: map[string]map[string]float64{"A": {"error_rate": 0.1}}}

	merged := snap.Apply(own)
	if !merged.HasGraph() {
		t.Fatalf("expected graph to be filled in")
	}
	if merged.ComponentMetrics["A"]["error_rate"] != 0.1 {
		t.Fatalf("caller metrics must win, got %+v", merged.ComponentMetrics)
	}
	if own.HasGraph() {
		t.Fatalf("original context must not change")
	}
}

func TestStoreOutcomePostsObject(t *testing.T) {
	var captured map[string]any
	store := NewOutcomeStore("https://audit.test", "", "", time.Second, 2)
	store.httpClient = &http.Client{Transport: stubTransport(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/objects" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(t, http.StatusOK, map[string]string{}), nil
	})}

	outcome := models.RemediationOutcome{PlanID: "plan-1", StrategyName: "Restart", Status: models.StatusCompleted}
	if err := store.StoreOutcome(context.Background(), outcome); err != nil {
		t.Fatalf("store: %v", err)
	}
	if captured["class"] != outcomeClass || captured["id"] != "plan-1" {
		t.Fatalf("unexpected payload %+v", captured)
	}
	props, _ := captured["properties"].(map[string]any)
	if props["strategy_name"] != "Restart" {
		t.Fatalf("unexpected properties %+v", props)
	}
}

func TestStoreOutcomeSurfacesUpstreamErrors(t *testing.T) {
	store := NewOutcomeStore("https://audit.test", "", "", time.Second, 0)
	store.httpClient = &http.Client{Transport: stubTransport(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadGateway, map[string]string{"error": "down"}), nil
	})}
	err := store.StoreOutcome(context.Background(), models.RemediationOutcome{PlanID: "p"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(store.Recent(0)) != 1 {
		t.Fatalf("failed uploads are still remembered locally")
	}
}

func TestRecentOutcomesNoEndpoint(t *testing.T) {
	store := NewOutcomeStore("", "", "", time.Second, 2)
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := store.StoreOutcome(context.Background(), models.RemediationOutcome{PlanID: id}); err != nil {
			t.Fatalf("store %s: %v", id, err)
		}
	}
	recent := store.Recent(0)
	if len(recent) != 2 || recent[0].PlanID != "p3" || recent[1].PlanID != "p2" {
		t.Fatalf("unexpected recent outcomes %+v", recent)
	}
	if got := store.Recent(1); len(got) != 1 || got[0].PlanID != "p3" {
		t.Fatalf("unexpected limited outcomes %+v", got)
	}
}
