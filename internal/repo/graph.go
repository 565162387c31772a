package repo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// GraphSnapshot is the component topology and per-component metrics mirador-core knows
// about around one component.
type GraphSnapshot struct {
	ComponentGraph   map[string][]string           `json:"component_graph"`
	ComponentMetrics map[string]map[string]float64 `json:"component_metrics"`
	ServiceCallEdges []models.Edge                 `json:"service_call_edges"`
}

// Empty reports whether the snapshot carries no topology.
func (s GraphSnapshot) Empty() bool {
	return len(s.ComponentGraph) == 0
}

// Apply fills the graph fields of errCtx that the caller left empty and returns the copy.
func (s GraphSnapshot) Apply(errCtx models.ErrorContext) models.ErrorContext {
	out := errCtx.Clone()
	if len(out.ComponentGraph) == 0 && len(s.ComponentGraph) > 0 {
		out.ComponentGraph = s.ComponentGraph
	}
	if len(out.ComponentMetrics) == 0 && len(s.ComponentMetrics) > 0 {
		out.ComponentMetrics = s.ComponentMetrics
	}
	if len(out.ServiceCallEdges) == 0 {
		out.ServiceCallEdges = s.ServiceCallEdges
	}
	return out
}

// CoreGraphClient fetches service graphs from mirador-core for incidents that arrive without
// topology.
type CoreGraphClient struct {
	jsonClient
	graphPath string
	cache     cache.Provider
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCoreGraphClient constructs a client targeting the configured mirador-core instance.
// cacheProvider may be nil.
func NewCoreGraphClient(baseURL, graphPath, apiKey string, timeout time.Duration, cacheProvider cache.Provider, ttl time.Duration, logger *slog.Logger) *CoreGraphClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheProvider == nil {
		cacheProvider = cache.NewMemoryProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreGraphClient{
		jsonClient: jsonClient{
			baseURL:    strings.TrimRight(baseURL, "/"),
			apiKey:     apiKey,
			httpClient: &http.Client{Timeout: timeout},
		},
		graphPath: graphPath,
		cache:     cacheProvider,
		ttl:       ttl,
		logger:    logger,
	}
}

// FetchGraph returns the service graph around component for one incident.
func (c *CoreGraphClient) FetchGraph(ctx context.Context, component, correlationID string) (GraphSnapshot, error) {
	if c == nil {
		return GraphSnapshot{}, fmt.Errorf("mirador-core client not initialised")
	}
	if c.baseURL == "" {
		return GraphSnapshot{}, fmt.Errorf("mirador-core base URL not configured")
	}

	key := fmt.Sprintf("remediation:coregraph:%s:%s", component, correlationID)
	if c.ttl > 0 {
		var cached GraphSnapshot
		if err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil {
			return cached, nil
		}
	}

	payload := map[string]string{
		"component":      component,
		"correlation_id": correlationID,
	}
	var response struct {
		Edges []struct {
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"edges"`
		Nodes []struct {
			Name    string             `json:"name"`
			Metrics map[string]float64 `json:"metrics"`
		} `json:"nodes"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.graphPath), payload, &response); err != nil {
		return GraphSnapshot{}, fmt.Errorf("mirador-core service graph request failed: %w", err)
	}

	snap := GraphSnapshot{
		ComponentGraph:   make(map[string][]string),
		ComponentMetrics: make(map[string]map[string]float64),
	}
	for _, e := range response.Edges {
		if e.Source == "" || e.Target == "" {
			continue
		}
		snap.ComponentGraph[e.Source] = append(snap.ComponentGraph[e.Source], e.Target)
		snap.ServiceCallEdges = append(snap.ServiceCallEdges, models.Edge{Source: e.Source, Target: e.Target})
	}
	for _, n := range response.Nodes {
		if n.Name == "" || len(n.Metrics) == 0 {
			continue
		}
		snap.ComponentMetrics[n.Name] = n.Metrics
		if _, ok := snap.ComponentGraph[n.Name]; !ok {
			snap.ComponentGraph[n.Name] = nil
		}
	}
	if snap.Empty() {
		return GraphSnapshot{}, fmt.Errorf("mirador-core service graph returned no components")
	}

	if c.ttl > 0 {
		if err := cache.SetJSON(ctx, c.cache, key, snap, c.ttl); err != nil {
			c.logger.Debug("service graph not cached", slog.String("key", key), slog.Any("error", err))
		}
	}
	return snap, nil
}
