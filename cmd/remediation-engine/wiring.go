package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-remediation/internal/actions"
	"github.com/miradorstack/mirador-remediation/internal/advisory"
	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/config"
	"github.com/miradorstack/mirador-remediation/internal/engine"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/patterns"
	"github.com/miradorstack/mirador-remediation/internal/plan"
	"github.com/miradorstack/mirador-remediation/internal/repo"
	"github.com/miradorstack/mirador-remediation/internal/risk"
	"github.com/miradorstack/mirador-remediation/internal/strategy"
	"github.com/miradorstack/mirador-remediation/internal/utils"
	"github.com/miradorstack/mirador-remediation/internal/validation"
)

// components is the assembled engine shared by the serve and analyze commands.
type components struct {
	strategies   *strategy.Registry
	actions      *actions.Registry
	plans        *plan.Manager
	executor     *executor.Executor
	outcomes     *repo.OutcomeStore
	orchestrator *engine.Orchestrator
	patterns     *patterns.Miner
	cache        cache.Provider
}

func (c *components) Close() {
	if c.cache != nil {
		_ = c.cache.Close()
	}
}

func buildComponents(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*components, error) {
	strategies := strategy.NewRegistry(logger)
	defs, err := strategy.LoadCatalog(cfg.Strategies.CatalogPath)
	if err != nil {
		return nil, utils.Wrap("strategy.LoadCatalog", err)
	}
	if _, err := strategy.RegisterCatalog(strategies, defs, logger); err != nil {
		return nil, utils.Wrap("strategy.RegisterCatalog", err)
	}
	if len(strategies.Names()) == 0 {
		logger.Warn("no remediation strategies registered", slog.String("catalog", cfg.Strategies.CatalogPath))
	}

	handlers := actions.NewRegistry()
	actions.RegisterBuiltins(handlers, logger, cfg.Actions.WebhookTimeout)

	oracle, err := buildAdvisory(cfg.Advisory, strategies, logger)
	if err != nil {
		return nil, err
	}

	threshold := models.RiskHigh
	if cfg.Strategies.ApprovalThreshold != "" {
		if threshold, err = models.ParseRiskLevel(cfg.Strategies.ApprovalThreshold); err != nil {
			return nil, err
		}
	}
	planOpts := plan.DefaultOptions()
	planOpts.ApprovalThreshold = threshold
	planOpts.DefaultMaxRetries = cfg.Execution.MaxRetries
	planOpts.DefaultRetryDelay = cfg.Execution.RetryDelay
	planOpts.DefaultTimeout = cfg.Execution.PlanTimeout
	planOpts.ActionTimeoutSeconds = int(cfg.Execution.ActionTimeout.Seconds())

	validator := validation.New(handlers, logger)
	plans := plan.NewManager(strategies, risk.NewAssessor(), validator, planOpts, logger)
	exec := executor.New(handlers, validator, executor.NewTracker(), metrics.NewCollector(reg),
		executor.Options{DefaultActionTimeout: cfg.Execution.ActionTimeout}, logger)

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}

	var graphSource engine.GraphSource
	if cfg.Core.BaseURL != "" {
		graphSource = repo.NewCoreGraphClient(cfg.Core.BaseURL, cfg.Core.GraphPath, cfg.Core.APIKey,
			cfg.Core.Timeout, cacheProvider, cfg.Cache.GraphAnalysisTTL, logger)
	}
	outcomes := repo.NewOutcomeStore(cfg.Audit.Endpoint, cfg.Audit.Path, cfg.Audit.APIKey, cfg.Audit.Timeout, 0)

	orch, err := engine.NewOrchestrator(engine.Dependencies{
		Advisory:    oracle,
		Analyzer:    engine.NewRemediationAnalyzer(strategies, engine.AnalyzerOptions{RequireGraph: cfg.Execution.RequireGraph}, logger),
		Plans:       plans,
		Executor:    exec,
		Cache:       cacheProvider,
		GraphSource: graphSource,
		Outcomes:    outcomes,
	}, engine.OrchestratorOptions{GraphTTL: cfg.Cache.GraphAnalysisTTL, LockTTL: cfg.Execution.PlanTimeout}, logger)
	if err != nil {
		_ = cacheProvider.Close()
		return nil, err
	}

	return &components{
		strategies:   strategies,
		actions:      handlers,
		plans:        plans,
		executor:     exec,
		outcomes:     outcomes,
		orchestrator: orch,
		patterns:     patterns.NewMiner(logger, cacheProvider, cfg.Cache.GraphAnalysisTTL),
		cache:        cacheProvider,
	}, nil
}

func buildAdvisory(cfg config.AdvisoryConfig, strategies *strategy.Registry, logger *slog.Logger) (advisory.Client, error) {
	switch cfg.Provider {
	case "http":
		return advisory.NewHTTPClient(cfg.Endpoint, cfg.ScorePath, cfg.APIKey, cfg.Timeout, cfg.RateLimit, cfg.Burst), nil
	case "openai":
		candidates := func(errorType string) []string {
			regs := strategies.GetStrategiesForErrorType(errorType)
			names := make([]string, 0, len(regs))
			for _, r := range regs {
				names = append(names, r.Metadata.Name)
			}
			return names
		}
		client, err := advisory.NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Model, candidates, logger)
		if err != nil {
			return nil, fmt.Errorf("configure openai advisory: %w", err)
		}
		return client, nil
	default:
		return advisory.StaticClient{Scores: cfg.StaticScores}, nil
	}
}
