package models

// RelationshipType classifies an edge of the component graph.
type RelationshipType string

const (
	RelationshipDirectDependency RelationshipType = "direct_dependency"
	RelationshipServiceCall      RelationshipType = "service_call"
	RelationshipDataFlow         RelationshipType = "data_flow"
	RelationshipIndirect         RelationshipType = "indirect"
)

// ComponentRelationship is one scored edge of the component graph.
type ComponentRelationship struct {
	Source   string           `json:"source"`
	Target   string           `json:"target"`
	Type     RelationshipType `json:"type"`
	Strength float64          `json:"strength"`
}

// ErrorPropagation describes how an error spreads from its source component.
type ErrorPropagation struct {
	AffectedComponents []string           `json:"affected_components"`
	PropagationPaths   [][]string         `json:"propagation_paths"`
	ComponentSeverity  map[string]float64 `json:"component_severity"`
}

// GraphAnalysis is the derived view of an ErrorContext's component graph.
type GraphAnalysis struct {
	Valid           bool                    `json:"valid"`
	Message         string                  `json:"message,omitempty"`
	CorrelationID   string                  `json:"correlation_id,omitempty"`
	ComponentHealth map[string]float64      `json:"component_health,omitempty"`
	Relationships   []ComponentRelationship `json:"relationships,omitempty"`
	Propagation     ErrorPropagation        `json:"propagation"`
}

// Health returns the health score of a component and whether it was scored.
func (g GraphAnalysis) Health(component string) (float64, bool) {
	if !g.Valid {
		return 0, false
	}
	v, ok := g.ComponentHealth[component]
	return v, ok
}

// AdvisoryResponse is the contract returned by an advisory oracle.
type AdvisoryResponse struct {
	StrategyScores       map[string]float64 `json:"strategy_scores"`
	StrategyExplanations map[string]string  `json:"strategy_explanations,omitempty"`
	IsValid              bool               `json:"is_valid"`
	ErrorMessage         string             `json:"error_message,omitempty"`
}

// StrategyRecommendation is one ranked strategy for an incident.
type StrategyRecommendation struct {
	StrategyName string  `json:"strategy_name"`
	Version      string  `json:"version,omitempty"`
	Priority     int     `json:"priority"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// FailureKind tags why an analysis could not produce recommendations.
type FailureKind string

const (
	FailureNone                   FailureKind = ""
	FailureInvalidContext         FailureKind = "invalid_context"
	FailureNoGraphData            FailureKind = "no_graph_data"
	FailureAdvisoryUnavailable    FailureKind = "advisory_unavailable"
	FailureNoApplicableStrategies FailureKind = "no_applicable_strategies"
)

// AnalysisResult carries ranked recommendations or a typed failure.
type AnalysisResult struct {
	Valid           bool                     `json:"valid"`
	Failure         FailureKind              `json:"failure,omitempty"`
	ErrorMessage    string                   `json:"error_message,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Graph           GraphAnalysis            `json:"graph"`
	Advisory        AdvisoryResponse         `json:"advisory"`
	Recommendations []StrategyRecommendation `json:"recommendations,omitempty"`
}

// Top returns the highest ranked recommendation.
func (a AnalysisResult) Top() (StrategyRecommendation, bool) {
	if !a.Valid || len(a.Recommendations) == 0 {
		return StrategyRecommendation{}, false
	}
	return a.Recommendations[0], true
}

// RiskAssessment summarises the risk of executing a plan or action.
type RiskAssessment struct {
	Level           RiskLevel `json:"level"`
	PotentialIssues []string  `json:"potential_issues"`
	MitigationSteps []string  `json:"mitigation_steps"`
	Confidence      float64   `json:"confidence"`
}
