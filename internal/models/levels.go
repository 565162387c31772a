package models

import (
	"fmt"
	"strings"
)

// Severity is the ordinal impact of a captured error.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = []string{"none", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity maps a case-insensitive name onto a Severity.
func ParseSeverity(value string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RiskLevel is the five-tier risk of executing a plan or action.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = []string{"none", "low", "medium", "high", "critical"}

func (r RiskLevel) String() string {
	if r < RiskNone || r > RiskCritical {
		return fmt.Sprintf("risk(%d)", int(r))
	}
	return riskNames[r]
}

// ParseRiskLevel maps a case-insensitive name onto a RiskLevel.
func ParseRiskLevel(value string) (RiskLevel, error) {
	for i, name := range riskNames {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return RiskLevel(i), nil
		}
	}
	return RiskNone, fmt.Errorf("unknown risk level %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ImpactScope describes how far an error reaches beyond its source.
type ImpactScope int

const (
	ScopeLocal ImpactScope = iota
	ScopeComponent
	ScopeService
	ScopeSystem
	ScopeGlobal
)

var scopeNames = []string{"local", "component", "service", "system", "global"}

func (s ImpactScope) String() string {
	if s < ScopeLocal || s > ScopeGlobal {
		return fmt.Sprintf("scope(%d)", int(s))
	}
	return scopeNames[s]
}

// ParseImpactScope maps a case-insensitive name onto an ImpactScope.
func ParseImpactScope(value string) (ImpactScope, error) {
	for i, name := range scopeNames {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return ImpactScope(i), nil
		}
	}
	return ScopeLocal, fmt.Errorf("unknown impact scope %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (s ImpactScope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ImpactScope) UnmarshalText(text []byte) error {
	parsed, err := ParseImpactScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AllSeverities lists every Severity in ascending order.
func AllSeverities() []Severity {
	return []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// AllImpactScopes lists every ImpactScope in ascending order.
func AllImpactScopes() []ImpactScope {
	return []ImpactScope{ScopeLocal, ScopeComponent, ScopeService, ScopeSystem, ScopeGlobal}
}
