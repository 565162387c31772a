package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// CatalogFile is the YAML root of a strategy catalog.
type CatalogFile struct {
	Strategies []Definition `yaml:"strategies"`
}

// Definition is a declarative strategy as written in a catalog file.
type Definition struct {
	Name             string        `yaml:"name"`
	Version          string        `yaml:"version"`
	Description      string        `yaml:"description"`
	Priority         int           `yaml:"priority"`
	ErrorTypes       []string      `yaml:"errorTypes"`
	TargetComponent  string        `yaml:"targetComponent"`
	RequiresApproval bool          `yaml:"requiresApproval"`
	RollbackOrder    string        `yaml:"rollbackOrder"`
	MaxRetries       *int          `yaml:"maxRetries"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	Timeout          time.Duration `yaml:"timeout"`
	Steps            []StepSpec    `yaml:"steps"`
}

// StepSpec is one step of a catalog strategy.
type StepSpec struct {
	ID             string                  `yaml:"id"`
	Name           string                  `yaml:"name"`
	Type           string                  `yaml:"type"`
	Action         string                  `yaml:"action"`
	Parameters     models.ActionParameters `yaml:"parameters"`
	DependsOn      []string                `yaml:"dependsOn"`
	Optional       bool                    `yaml:"optional"`
	TimeoutSeconds int                     `yaml:"timeoutSeconds"`
	MaxRetries     *int                    `yaml:"maxRetries"`
	Rollback       *RollbackSpec           `yaml:"rollback"`
}

// RollbackSpec is the compensating action attached to a catalog step.
type RollbackSpec struct {
	Name           string                  `yaml:"name"`
	Action         string                  `yaml:"action"`
	Parameters     models.ActionParameters `yaml:"parameters"`
	TimeoutSeconds int                     `yaml:"timeoutSeconds"`
}

// LoadCatalog reads strategy definitions from path. A missing file yields no definitions.
func LoadCatalog(path string) ([]Definition, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) ([]Definition, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategy catalog: %w", err)
	}
	return file.Strategies, nil
}

// RegisterCatalog registers every definition in defs, stopping at the first failure.
func RegisterCatalog(reg *Registry, defs []Definition, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	count := 0
	for _, def := range defs {
		s, err := NewCatalogStrategy(def)
		if err != nil {
			return count, err
		}
		if err := reg.Register(s, s.Metadata()); err != nil {
			return count, err
		}
		count++
	}
	logger.Info("strategy catalog registered", slog.Int("strategies", count))
	return count, nil
}

// CatalogStrategy is a Strategy backed by a YAML definition. Parameter strings may
// reference the incident with ${source}, ${target}, ${error_type} and ${correlation_id}.
type CatalogStrategy struct {
	def  Definition
	meta models.StrategyMetadata
}

// NewCatalogStrategy validates def and wraps it as a Strategy.
func NewCatalogStrategy(def Definition) (*CatalogStrategy, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: catalog entry without name", ErrInvalidStrategy)
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s has no steps", ErrInvalidStrategy, def.Name)
	}
	switch models.RollbackOrder(strings.ToLower(def.RollbackOrder)) {
	case "", models.RollbackReverse, models.RollbackForward:
	default:
		return nil, fmt.Errorf("%w: %s rollbackOrder %q", ErrInvalidStrategy, def.Name, def.RollbackOrder)
	}
	for _, step := range def.Steps {
		if step.ID == "" || step.Action == "" {
			return nil, fmt.Errorf("%w: %s has a step without id or action", ErrInvalidStrategy, def.Name)
		}
		if _, err := models.ParseStepType(step.Type); err != nil {
			return nil, fmt.Errorf("%w: %s step %s: %v", ErrInvalidStrategy, def.Name, step.ID, err)
		}
	}
	return &CatalogStrategy{
		def: def,
		meta: models.StrategyMetadata{
			Name:               def.Name,
			Version:            def.Version,
			Description:        def.Description,
			SupportedErrorType: append([]string(nil), def.ErrorTypes...),
			Priority:           def.Priority,
			TargetComponent:    def.TargetComponent,
			RequiresApproval:   def.RequiresApproval,
		},
	}, nil
}

// Metadata implements Strategy.
func (s *CatalogStrategy) Metadata() models.StrategyMetadata {
	return s.meta
}

// Blueprint implements Strategy.
func (s *CatalogStrategy) Blueprint(ctx context.Context, errCtx models.ErrorContext) (Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return Blueprint{}, err
	}
	expand := s.expander(errCtx)

	order := models.RollbackOrder(strings.ToLower(s.def.RollbackOrder))
	if order == "" {
		order = models.RollbackReverse
	}
	bp := Blueprint{
		Description:   expand(s.def.Description),
		RollbackOrder: order,
		MaxRetries:    s.def.MaxRetries,
		RetryDelay:    s.def.RetryDelay,
		Timeout:       s.def.Timeout,
		Steps:         make([]StepDefinition, 0, len(s.def.Steps)),
	}
	for _, spec := range s.def.Steps {
		stepType, _ := models.ParseStepType(spec.Type)
		name := spec.Name
		if name == "" {
			name = spec.ID
		}
		step := StepDefinition{
			ID:             spec.ID,
			Name:           expand(name),
			Type:           stepType,
			Action:         spec.Action,
			Parameters:     expandParameters(spec.Parameters, expand),
			DependsOn:      append([]string(nil), spec.DependsOn...),
			Optional:       spec.Optional,
			TimeoutSeconds: spec.TimeoutSeconds,
			MaxRetries:     spec.MaxRetries,
		}
		if spec.Rollback != nil {
			step.Rollback = &RollbackDefinition{
				Name:           expand(spec.Rollback.Name),
				Action:         spec.Rollback.Action,
				Parameters:     expandParameters(spec.Rollback.Parameters, expand),
				TimeoutSeconds: spec.Rollback.TimeoutSeconds,
			}
		}
		bp.Steps = append(bp.Steps, step)
	}
	return bp, nil
}

func (s *CatalogStrategy) expander(errCtx models.ErrorContext) func(string) string {
	target := s.def.TargetComponent
	if target == "" {
		target = errCtx.SourceComponent
	}
	replacer := strings.NewReplacer(
		"${source}", errCtx.SourceComponent,
		"${target}", target,
		"${error_type}", errCtx.ErrorType,
		"${correlation_id}", errCtx.CorrelationID,
	)
	return replacer.Replace
}

func expandParameters(p models.ActionParameters, expand func(string) string) models.ActionParameters {
	out := models.ActionParameters{
		Target:      expand(p.Target),
		Command:     expand(p.Command),
		Endpoint:    expand(p.Endpoint),
		WaitSeconds: p.WaitSeconds,
	}
	if len(p.Extra) > 0 {
		out.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = expand(v)
		}
	}
	return out
}
