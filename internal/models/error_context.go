package models

import (
	"sort"
	"time"
)

// Metric names understood by the graph analyzer.
const (
	MetricErrorRate           = "error_rate"
	MetricResponseTimeMs      = "response_time_ms"
	MetricResourceUtilization = "resource_utilization"
)

// Edge is a directed link between two components.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// ErrorContext is the snapshot of one incident: the error, the component graph around it and
// the metrics each component reported. It is treated as immutable once analysis starts.
type ErrorContext struct {
	ErrorType          string                        `json:"error_type" yaml:"errorType"`
	Message            string                        `json:"message" yaml:"message"`
	SourceComponent    string                        `json:"source_component" yaml:"sourceComponent"`
	Severity           Severity                      `json:"severity" yaml:"severity"`
	Scope              ImpactScope                   `json:"scope" yaml:"scope"`
	ComponentGraph     map[string][]string           `json:"component_graph,omitempty" yaml:"componentGraph"`
	ComponentMetrics   map[string]map[string]float64 `json:"component_metrics,omitempty" yaml:"componentMetrics"`
	DependencyEdges    []Edge                        `json:"dependency_edges,omitempty" yaml:"dependencyEdges"`
	ServiceCallEdges   []Edge                        `json:"service_call_edges,omitempty" yaml:"serviceCallEdges"`
	DataFlowEdges      []Edge                        `json:"data_flow_edges,omitempty" yaml:"dataFlowEdges"`
	AffectedComponents []string                      `json:"affected_components,omitempty" yaml:"affectedComponents"`
	CorrelationID      string                        `json:"correlation_id" yaml:"correlationId"`
	Timestamp          time.Time                     `json:"timestamp" yaml:"timestamp"`
	Metadata           map[string]string             `json:"metadata,omitempty" yaml:"metadata"`
}

// HasGraph reports whether the context carries any component edges or nodes.
func (c ErrorContext) HasGraph() bool {
	return len(c.ComponentGraph) > 0
}

// Metric returns a component metric and whether it was reported.
func (c ErrorContext) Metric(component, name string) (float64, bool) {
	metrics, ok := c.ComponentMetrics[component]
	if !ok {
		return 0, false
	}
	v, ok := metrics[name]
	return v, ok
}

// Components returns every component mentioned in the graph, sorted.
func (c ErrorContext) Components() []string {
	set := make(map[string]struct{}, len(c.ComponentGraph))
	for src, targets := range c.ComponentGraph {
		if src != "" {
			set[src] = struct{}{}
		}
		for _, t := range targets {
			if t != "" {
				set[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy so derived state never aliases the original snapshot.
func (c ErrorContext) Clone() ErrorContext {
	out := c
	if c.ComponentGraph != nil {
		out.ComponentGraph = make(map[string][]string, len(c.ComponentGraph))
		for k, v := range c.ComponentGraph {
			out.ComponentGraph[k] = append([]string(nil), v...)
		}
	}
	if c.ComponentMetrics != nil {
		out.ComponentMetrics = make(map[string]map[string]float64, len(c.ComponentMetrics))
		for k, v := range c.ComponentMetrics {
			inner := make(map[string]float64, len(v))
			for mk, mv := range v {
				inner[mk] = mv
			}
			out.ComponentMetrics[k] = inner
		}
	}
	out.DependencyEdges = append([]Edge(nil), c.DependencyEdges...)
	out.ServiceCallEdges = append([]Edge(nil), c.ServiceCallEdges...)
	out.DataFlowEdges = append([]Edge(nil), c.DataFlowEdges...)
	out.AffectedComponents = append([]string(nil), c.AffectedComponents...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
