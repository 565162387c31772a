package graph

import (
	"log/slog"
	"math"
	"sort"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// MessageNoGraphData is reported when an ErrorContext carries no component graph.
const MessageNoGraphData = "no graph data"

// Analyzer scores component health, edge strength and error propagation over the component
// graph carried by an ErrorContext. It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// Analyze derives a GraphAnalysis from errCtx. An empty graph yields an invalid analysis
// rather than an error so callers can fall back to advisory-only scoring.
func (a *Analyzer) Analyze(errCtx models.ErrorContext) models.GraphAnalysis {
	result := models.GraphAnalysis{CorrelationID: errCtx.CorrelationID}
	if !errCtx.HasGraph() {
		result.Message = MessageNoGraphData
		return result
	}

	components := errCtx.Components()
	if len(components) == 0 {
		result.Message = MessageNoGraphData
		return result
	}
	if errCtx.SourceComponent != "" && !containsString(components, errCtx.SourceComponent) {
		components = append(components, errCtx.SourceComponent)
		sort.Strings(components)
	}

	result.Valid = true
	result.ComponentHealth = make(map[string]float64, len(components))
	for _, component := range components {
		result.ComponentHealth[component] = ComponentHealth(errCtx, component)
	}
	result.Relationships = Relationships(errCtx)
	result.Propagation = Propagation(errCtx)

	a.logger.Debug("graph analysed",
		slog.String("correlation_id", errCtx.CorrelationID),
		slog.Int("components", len(components)),
		slog.Int("relationships", len(result.Relationships)),
		slog.Int("affected", len(result.Propagation.AffectedComponents)),
	)
	return result
}

// ComponentHealth starts from 1.0 and discounts multiplicatively for error rate, response
// time and resource utilisation. The error source is halved again.
func ComponentHealth(errCtx models.ErrorContext, component string) float64 {
	health := 1.0
	if v, ok := errCtx.Metric(component, models.MetricErrorRate); ok {
		health *= 1 - math.Min(math.Max(v, 0), 1)
	}
	if v, ok := errCtx.Metric(component, models.MetricResponseTimeMs); ok {
		health *= 1 - math.Min(math.Max(v, 0)/1000, 1)
	}
	if v, ok := errCtx.Metric(component, models.MetricResourceUtilization); ok {
		health *= 1 - math.Min(math.Max(v, 0), 1)
	}
	if component == errCtx.SourceComponent {
		health *= 0.5
	}
	return clamp(health, 0, 1)
}

// Relationships scores every edge of the component graph, ordered by source then target.
func Relationships(errCtx models.ErrorContext) []models.ComponentRelationship {
	sources := make([]string, 0, len(errCtx.ComponentGraph))
	for src := range errCtx.ComponentGraph {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	dependency := edgeSet(errCtx.DependencyEdges)
	serviceCall := edgeSet(errCtx.ServiceCallEdges)
	dataFlow := edgeSet(errCtx.DataFlowEdges)

	relationships := make([]models.ComponentRelationship, 0)
	for _, src := range sources {
		for _, dst := range sortedUnique(errCtx.ComponentGraph[src]) {
			edge := models.Edge{Source: src, Target: dst}
			relationships = append(relationships, models.ComponentRelationship{
				Source:   src,
				Target:   dst,
				Type:     classify(edge, dependency, serviceCall, dataFlow),
				Strength: relationshipStrength(errCtx, src, dst),
			})
		}
	}
	return relationships
}

func relationshipStrength(errCtx models.ErrorContext, src, dst string) float64 {
	strength := 0.5
	if src == errCtx.SourceComponent {
		strength += 0.3
	}
	srcRate, srcOK := errCtx.Metric(src, models.MetricErrorRate)
	dstRate, dstOK := errCtx.Metric(dst, models.MetricErrorRate)
	if srcOK && dstOK {
		strength += 0.2 * (1 - math.Abs(srcRate-dstRate))
	}
	return clamp(strength, 0, 1)
}

func classify(edge models.Edge, dependency, serviceCall, dataFlow map[models.Edge]struct{}) models.RelationshipType {
	if _, ok := dependency[edge]; ok {
		return models.RelationshipDirectDependency
	}
	if _, ok := serviceCall[edge]; ok {
		return models.RelationshipServiceCall
	}
	if _, ok := dataFlow[edge]; ok {
		return models.RelationshipDataFlow
	}
	return models.RelationshipIndirect
}

// Propagation walks the graph breadth-first from the error source. Every visited component
// is affected; a path is reported when it ends at a leaf or at a component whose severity
// exceeds 0.7.
func Propagation(errCtx models.ErrorContext) models.ErrorPropagation {
	prop := models.ErrorPropagation{
		AffectedComponents: []string{},
		PropagationPaths:   [][]string{},
		ComponentSeverity:  map[string]float64{},
	}
	source := errCtx.SourceComponent
	if source == "" {
		return prop
	}

	type visit struct {
		node string
		path []string
	}
	visited := map[string]struct{}{source: {}}
	queue := []visit{{node: source, path: []string{source}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		severity := componentSeverity(errCtx, current.node, len(current.path))
		prop.AffectedComponents = append(prop.AffectedComponents, current.node)
		prop.ComponentSeverity[current.node] = severity

		next := sortedUnique(errCtx.ComponentGraph[current.node])
		if len(next) == 0 || severity > 0.7 {
			prop.PropagationPaths = append(prop.PropagationPaths, append([]string(nil), current.path...))
		}

		for _, dst := range next {
			if _, seen := visited[dst]; seen {
				continue
			}
			visited[dst] = struct{}{}
			path := make([]string, len(current.path), len(current.path)+1)
			copy(path, current.path)
			queue = append(queue, visit{node: dst, path: append(path, dst)})
		}
	}
	return prop
}

func componentSeverity(errCtx models.ErrorContext, component string, pathLength int) float64 {
	severity := 1 - 0.2*float64(pathLength-1)
	if v, ok := errCtx.Metric(component, models.MetricErrorRate); ok {
		severity += 0.4 * v
	}
	if v, ok := errCtx.Metric(component, models.MetricResponseTimeMs); ok {
		severity += 0.3 * math.Min(math.Max(v, 0)/1000, 1)
	}
	if component == errCtx.SourceComponent {
		severity += 0.3
	}
	return clamp(severity, 0, 1)
}

func edgeSet(edges []models.Edge) map[models.Edge]struct{} {
	set := make(map[models.Edge]struct{}, len(edges))
	for _, e := range edges {
		set[e] = struct{}{}
	}
	return set
}

func sortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
