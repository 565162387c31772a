package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	ActionLog     = "log"
	ActionWait    = "wait"
	ActionWebhook = "webhook"
)

// RegisterBuiltins binds the log, wait and webhook handlers.
func RegisterBuiltins(r *Registry, logger *slog.Logger, webhookTimeout time.Duration) {
	_ = r.Register(ActionLog, NewLogHandler(logger))
	_ = r.Register(ActionWait, WaitHandler{})
	_ = r.Register(ActionWebhook, NewWebhookHandler(webhookTimeout))
}

// LogHandler records the action and succeeds. Useful for notification and dry-run steps.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler constructs a LogHandler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger}
}

// Execute implements Handler.
func (h *LogHandler) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	h.logger.Info("remediation action",
		slog.String("plan_id", req.PlanID),
		slog.String("step_id", req.StepID),
		slog.String("target", req.Parameters.Target),
		slog.String("command", req.Parameters.Command),
		slog.Bool("rollback", req.Rollback),
	)
	return Result{Message: fmt.Sprintf("logged %s", req.StepName)}, nil
}

// WaitHandler pauses for Parameters.WaitSeconds.
type WaitHandler struct{}

// Execute implements Handler.
func (WaitHandler) Execute(ctx context.Context, req Request) (Result, error) {
	d := time.Duration(req.Parameters.WaitSeconds) * time.Second
	if d <= 0 {
		return Result{Message: "no wait"}, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		return Result{Message: fmt.Sprintf("waited %s", d)}, nil
	}
}

// WebhookHandler posts the action to Parameters.Endpoint and expects a 2xx answer.
type WebhookHandler struct {
	httpClient *http.Client
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookHandler{httpClient: &http.Client{Timeout: timeout}}
}

// Execute implements Handler.
func (h *WebhookHandler) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Parameters.Endpoint == "" {
		return Result{}, fmt.Errorf("webhook endpoint not configured")
	}
	payload := map[string]any{
		"plan_id":  req.PlanID,
		"step_id":  req.StepID,
		"target":   req.Parameters.Target,
		"command":  req.Parameters.Command,
		"extra":    req.Parameters.Extra,
		"attempt":  req.Attempt,
		"rollback": req.Rollback,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Parameters.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("webhook returned %s", resp.Status)
	}
	return Result{Message: fmt.Sprintf("webhook accepted with %s", resp.Status)}, nil
}
