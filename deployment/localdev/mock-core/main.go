// Command mock-core stands in for mirador-core, the advisory oracle, the outcome store and
// the ops webhooks when running the remediation engine locally.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type graphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type graphNode struct {
	Name    string             `json:"name"`
	Metrics map[string]float64 `json:"metrics"`
}

type graphRequest struct {
	Component     string `json:"component"`
	CorrelationID string `json:"correlation_id"`
}

type advisoryRequest struct {
	ErrorType       string `json:"error_type"`
	SourceComponent string `json:"source_component"`
}

type outcomeRecord struct {
	Class      string         `json:"class"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// scoresByErrorType mirrors the strategies in configs/strategies/default.yaml.
var scoresByErrorType = map[string]map[string]float64{
	"Timeout":     {"Monitor": 0.8, "RestartService": 0.6, "ScaleOut": 0.5, "Backup": 0.4},
	"Crash":       {"RestartService": 0.9, "Monitor": 0.3},
	"OutOfMemory": {"RestartService": 0.7, "Monitor": 0.4},
	"HighLatency": {"ScaleOut": 0.8, "Monitor": 0.5},
}

func main() {
	logger := log.New(log.Writer(), "core-mock ", log.LstdFlags|log.Lmicroseconds)

	var (
		mu       sync.Mutex
		outcomes []outcomeRecord
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/rca/service-graph", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req graphRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Component == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"edges": []graphEdge{
				{Source: req.Component, Target: "payments"},
				{Source: req.Component, Target: "inventory"},
				{Source: "payments", Target: "ledger"},
			},
			"nodes": []graphNode{
				{Name: req.Component, Metrics: map[string]float64{"error_rate": 0.2, "response_time_ms": 950, "resource_utilization": 0.7}},
				{Name: "payments", Metrics: map[string]float64{"error_rate": 0.07, "response_time_ms": 740}},
				{Name: "inventory", Metrics: map[string]float64{"error_rate": 0.02}},
			},
		})
	})

	mux.HandleFunc("/api/v1/advisory/score", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req advisoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		scores, ok := scoresByErrorType[req.ErrorType]
		if !ok {
			writeJSON(w, map[string]any{"strategy_scores": map[string]float64{}, "is_valid": false, "error_message": "unknown error type"})
			return
		}
		explanations := make(map[string]string, len(scores))
		for name := range scores {
			explanations[name] = "mock score for " + strings.ToLower(req.ErrorType) + " on " + req.SourceComponent
		}
		writeJSON(w, map[string]any{"strategy_scores": scores, "strategy_explanations": explanations, "is_valid": true})
	})

	mux.HandleFunc("/api/v1/remediation/outcomes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var rec outcomeRecord
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			outcomes = append(outcomes, rec)
			mu.Unlock()
			logger.Printf("outcome %s status=%v", rec.ID, rec.Properties["status"])
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			mu.Lock()
			snapshot := append([]outcomeRecord(nil), outcomes...)
			mu.Unlock()
			writeJSON(w, map[string]any{"objects": snapshot})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/ops/", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		op := strings.TrimPrefix(r.URL.Path, "/api/v1/ops/")
		writeJSON(w, map[string]any{"operation": op, "accepted": true})
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
