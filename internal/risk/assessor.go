package risk

import (
	"math"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// Assessor maps severity and impact scope onto a risk level and derives the issue and
// mitigation text that accompanies it. Every method is a pure function of its inputs.
type Assessor struct{}

// NewAssessor constructs an Assessor.
func NewAssessor() *Assessor {
	return &Assessor{}
}

// AssessRisk applies the escalation table: Global and System scope raise the risk one tier
// (Critical and High both cap at Critical); any other scope maps severity straight across.
func (a *Assessor) AssessRisk(severity models.Severity, scope models.ImpactScope) models.RiskLevel {
	wide := scope == models.ScopeGlobal || scope == models.ScopeSystem
	if wide {
		switch severity {
		case models.SeverityCritical, models.SeverityHigh:
			return models.RiskCritical
		case models.SeverityMedium:
			return models.RiskHigh
		case models.SeverityLow:
			return models.RiskMedium
		}
	}
	switch severity {
	case models.SeverityCritical:
		return models.RiskCritical
	case models.SeverityHigh:
		return models.RiskHigh
	case models.SeverityMedium:
		return models.RiskMedium
	case models.SeverityLow:
		return models.RiskLow
	default:
		return models.RiskNone
	}
}

// GeneratePotentialIssues lists what could go wrong at the given risk level.
func (a *Assessor) GeneratePotentialIssues(level models.RiskLevel) []string {
	switch level {
	case models.RiskCritical:
		return []string{
			"System-wide outage if remediation misbehaves",
			"Data loss or corruption in dependent stores",
			"Cascading failures across downstream services",
			"Extended recovery time beyond the service level objective",
		}
	case models.RiskHigh:
		return []string{
			"Service disruption for dependent components",
			"Partial data inconsistency during the change",
			"Degraded performance while remediation runs",
		}
	case models.RiskMedium:
		return []string{
			"Temporary performance degradation",
			"Brief unavailability of the affected component",
		}
	case models.RiskLow:
		return []string{
			"Minor, transient impact on the affected component",
		}
	default:
		return []string{
			"No significant impact expected",
		}
	}
}

// GenerateMitigationSteps lists the precautions to take at the given risk level.
func (a *Assessor) GenerateMitigationSteps(level models.RiskLevel) []string {
	switch level {
	case models.RiskCritical:
		return []string{
			"Schedule the change inside an approved maintenance window",
			"Notify stakeholders and the on-call incident commander",
			"Take a full backup of affected state before executing",
			"Prepare and verify the rollback plan",
			"Monitor all dependent services during execution",
		}
	case models.RiskHigh:
		return []string{
			"Notify service owners before executing",
			"Take a backup of affected state",
			"Verify the rollback plan is available",
			"Monitor the affected service closely",
		}
	case models.RiskMedium:
		return []string{
			"Monitor key metrics during execution",
			"Keep the rollback plan ready",
		}
	case models.RiskLow:
		return []string{
			"Enable basic logging of remediation actions",
		}
	default:
		return []string{
			"Basic logging only",
		}
	}
}

// ConfidenceInput lists the evidence available to an assessment.
type ConfidenceInput struct {
	HasDescription       bool
	HasValidationResults bool
	ErrorContext         *models.ErrorContext
}

// AssessmentConfidence scores how much evidence backed an assessment. The result is on a
// 0..100 scale.
func (a *Assessor) AssessmentConfidence(in ConfidenceInput) float64 {
	score := 50.0
	if in.HasDescription {
		score += 10
	}
	if in.HasValidationResults {
		score += 15
	}
	if in.ErrorContext != nil {
		score += 15
		if in.ErrorContext.ErrorType != "" {
			score += 5
		}
		if in.ErrorContext.SourceComponent != "" {
			score += 5
		}
		if len(in.ErrorContext.AffectedComponents) > 0 {
			score += 5
		}
	}
	return math.Min(score, 100)
}

// Assess builds a full RiskAssessment for an error context.
func (a *Assessor) Assess(errCtx *models.ErrorContext, hasDescription, hasValidationResults bool) models.RiskAssessment {
	level := models.RiskNone
	if errCtx != nil {
		level = a.AssessRisk(errCtx.Severity, errCtx.Scope)
	}
	confidence := a.AssessmentConfidence(ConfidenceInput{
		HasDescription:       hasDescription,
		HasValidationResults: hasValidationResults,
		ErrorContext:         errCtx,
	})
	return models.RiskAssessment{
		Level:           level,
		PotentialIssues: a.GeneratePotentialIssues(level),
		MitigationSteps: a.GenerateMitigationSteps(level),
		Confidence:      confidence / 100,
	}
}
