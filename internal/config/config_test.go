package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_REMEDIATION_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Execution.ActionTimeout != 300*time.Second {
		t.Fatalf("expected 300s action timeout, got %v", cfg.Execution.ActionTimeout)
	}
	if cfg.Execution.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.Execution.MaxRetries)
	}
	if cfg.Advisory.Provider != "static" || cfg.Strategies.ApprovalThreshold != "high" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  address: ":6000"
advisory:
  provider: http
  endpoint: http://advisory.local
  staticScores:
    Restart: 0.7
execution:
  maxRetries: 1
  retryDelay: 2s
cache:
  enabled: true
  addr: valkey:6379
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_REMEDIATION_MAX_RETRIES", "5")
	t.Setenv("MIRADOR_REMEDIATION_LOG_FORMAT", "json")
	t.Setenv("MIRADOR_REMEDIATION_CACHE_GRAPH_TTL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":6000" {
		t.Fatalf("expected file address, got %s", cfg.Server.Address)
	}
	if cfg.Execution.MaxRetries != 5 {
		t.Fatalf("env should override file, got %d", cfg.Execution.MaxRetries)
	}
	if cfg.Execution.RetryDelay != 2*time.Second {
		t.Fatalf("expected 2s retry delay, got %v", cfg.Execution.RetryDelay)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if cfg.Cache.GraphAnalysisTTL != 90*time.Second {
		t.Fatalf("expected 90s ttl, got %v", cfg.Cache.GraphAnalysisTTL)
	}
	if cfg.Advisory.StaticScores["Restart"] != 0.7 {
		t.Fatalf("expected static score, got %v", cfg.Advisory.StaticScores)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"http without endpoint": "advisory:\n  provider: http\n",
		"unknown provider":      "advisory:\n  provider: crystal-ball\n",
		"openai without key":    "advisory:\n  provider: openai\n",
		"cache without addr":    "cache:\n  enabled: true\n",
		"bad threshold":         "strategies:\n  approvalThreshold: extreme\n",
		"zero action timeout":   "execution:\n  actionTimeout: 0s\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCoreGraphSourceOverrides(t *testing.T) {
	t.Setenv("MIRADOR_REMEDIATION_CONFIG", "")
	t.Setenv("MIRADOR_REMEDIATION_CORE_URL", "http://mirador-core:8010")
	t.Setenv("MIRADOR_REMEDIATION_CORE_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Core.BaseURL != "http://mirador-core:8010" || cfg.Core.Timeout != 3*time.Second {
		t.Fatalf("unexpected core config %+v", cfg.Core)
	}
	if cfg.Core.GraphPath != "/api/v1/rca/service-graph" {
		t.Fatalf("unexpected graph path %s", cfg.Core.GraphPath)
	}

	t.Setenv("MIRADOR_REMEDIATION_CORE_URL", "not a url")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "BaseURL") {
		t.Fatalf("expected invalid core url error, got %v", err)
	}
}
