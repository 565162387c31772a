package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func TestSanitizeClampsScores(t *testing.T) {
	got := Sanitize(models.AdvisoryResponse{
		StrategyScores: map[string]float64{"a": 1.7, "b": -0.2, "c": 0.5, "d": math.NaN()},
		IsValid:        true,
	})
	if !got.IsValid {
		t.Fatalf("expected valid response")
	}
	if got.StrategyScores["a"] != 1 || got.StrategyScores["b"] != 0 || got.StrategyScores["c"] != 0.5 {
		t.Fatalf("unexpected scores: %v", got.StrategyScores)
	}
	if _, ok := got.StrategyScores["d"]; ok {
		t.Fatalf("expected NaN score to be dropped")
	}
}

func TestSanitizeEmptyScoresInvalid(t *testing.T) {
	got := Sanitize(models.AdvisoryResponse{IsValid: true})
	if got.IsValid {
		t.Fatalf("expected empty score map to be invalid")
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected an error message")
	}
}

func TestStaticClient(t *testing.T) {
	c := StaticClient{Scores: map[string]float64{"Monitor": 0.8}}
	resp, err := c.Analyze(context.Background(), models.ErrorContext{})
	if err != nil || !resp.IsValid || resp.StrategyScores["Monitor"] != 0.8 {
		t.Fatalf("unexpected response %+v err=%v", resp, err)
	}

	boom := errors.New("unreachable")
	if _, err := (StaticClient{Err: boom}).Analyze(context.Background(), models.ErrorContext{}); !errors.Is(err, boom) {
		t.Fatalf("expected configured error, got %v", err)
	}
}

func TestHTTPClientAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/advisory/score" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var errCtx models.ErrorContext
		if err := json.NewDecoder(r.Body).Decode(&errCtx); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if errCtx.SourceComponent != "OrderService" {
			t.Errorf("unexpected source %q", errCtx.SourceComponent)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"strategy_scores":       map[string]float64{"Monitor": 0.8, "Backup": 2},
			"strategy_explanations": map[string]string{"Monitor": "watch it"},
			"is_valid":              true,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "/v1/advisory/score", "secret", time.Second, 100, 1)
	resp, err := c.Analyze(context.Background(), models.ErrorContext{SourceComponent: "OrderService"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if resp.StrategyScores["Backup"] != 1 {
		t.Fatalf("expected clamped score, got %v", resp.StrategyScores)
	}
	if resp.StrategyExplanations["Monitor"] != "watch it" {
		t.Fatalf("unexpected explanations %v", resp.StrategyExplanations)
	}
}

func TestHTTPClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "score", "", time.Second, 0, 0)
	if _, err := c.Analyze(context.Background(), models.ErrorContext{}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

type fakeCompleter struct {
	content string
	err     error
	got     openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func TestOpenAIClientFiltersUnknownStrategies(t *testing.T) {
	fake := &fakeCompleter{content: `{"strategy_scores":{"Monitor":0.8,"Invented":0.9},"strategy_explanations":{"Monitor":"low risk"}}`}
	c := newOpenAIClient(fake, "", func(string) []string { return []string{"Monitor", "Backup"} }, nil)

	resp, err := c.Analyze(context.Background(), models.ErrorContext{ErrorType: "Timeout", SourceComponent: "OrderService"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if fake.got.Model != defaultOpenAIModel {
		t.Fatalf("expected default model, got %q", fake.got.Model)
	}
	if _, ok := resp.StrategyScores["Invented"]; ok {
		t.Fatalf("unknown strategy should be dropped: %v", resp.StrategyScores)
	}
	if !resp.IsValid || resp.StrategyScores["Monitor"] != 0.8 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAIClientErrors(t *testing.T) {
	c := newOpenAIClient(&fakeCompleter{content: "not json"}, "m", func(string) []string { return []string{"Monitor"} }, nil)
	if _, err := c.Analyze(context.Background(), models.ErrorContext{}); err == nil {
		t.Fatalf("expected decode error")
	}

	c = newOpenAIClient(&fakeCompleter{}, "m", func(string) []string { return nil }, nil)
	if _, err := c.Analyze(context.Background(), models.ErrorContext{}); err == nil {
		t.Fatalf("expected error without candidates")
	}

	if _, err := NewOpenAIClient("", "", "", nil, nil); err == nil {
		t.Fatalf("expected missing key error")
	}
}
