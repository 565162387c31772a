package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

const outcomeClass = "RemediationOutcome"

// OutcomeStore persists remediation outcomes to an object store and keeps the most recent
// ones in memory for listing.
type OutcomeStore struct {
	jsonClient
	objectsPath string

	mu     sync.Mutex
	recent []models.RemediationOutcome
	limit  int
}

// NewOutcomeStore constructs a store. An empty endpoint keeps outcomes in memory only.
func NewOutcomeStore(endpoint, objectsPath, apiKey string, timeout time.Duration, keep int) *OutcomeStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if objectsPath == "" {
		objectsPath = "/v1/objects"
	}
	if keep <= 0 {
		keep = 256
	}
	return &OutcomeStore{
		jsonClient: jsonClient{
			baseURL:    strings.TrimRight(endpoint, "/"),
			apiKey:     apiKey,
			httpClient: &http.Client{Timeout: timeout},
		},
		objectsPath: objectsPath,
		limit:       keep,
	}
}

// StoreOutcome records an outcome locally and, when an endpoint is configured, remotely.
func (s *OutcomeStore) StoreOutcome(ctx context.Context, outcome models.RemediationOutcome) error {
	if s == nil {
		return fmt.Errorf("outcome store not initialised")
	}
	s.remember(outcome)
	if s.baseURL == "" {
		return nil
	}

	payload := map[string]any{
		"class":      outcomeClass,
		"properties": outcome,
	}
	if outcome.PlanID != "" {
		payload["id"] = outcome.PlanID
	}
	if err := s.postJSON(ctx, s.resolvePath(s.objectsPath), payload, nil); err != nil {
		return fmt.Errorf("store remediation outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (s *OutcomeStore) Recent(limit int) []models.RemediationOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]models.RemediationOutcome, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

func (s *OutcomeStore) remember(outcome models.RemediationOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, outcome)
	if len(s.recent) > s.limit {
		s.recent = append([]models.RemediationOutcome(nil), s.recent[len(s.recent)-s.limit:]...)
	}
}
