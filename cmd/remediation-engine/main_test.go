package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

const catalog = `strategies:
  - name: Monitor
    version: 1.0.0
    priority: 1
    errorTypes: [Timeout]
    steps:
      - id: notify
        action: log
  - name: Backup
    version: 1.0.0
    priority: 3
    errorTypes: [Timeout]
    steps:
      - id: snapshot
        action: log
`

const incidentYAML = `errorType: Timeout
message: checkout timed out
sourceComponent: OrderService
severity: high
scope: service
correlationId: corr-cli
componentGraph:
  OrderService: [PaymentService]
componentMetrics:
  OrderService:
    error_rate: 0.2
`

func writeFixtures(t *testing.T) (configPath, incidentPath string) {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalog), 0o600))

	configPath = filepath.Join(dir, "config.yaml")
	cfg := "strategies:\n  catalogPath: " + catalogPath + "\n" +
		"advisory:\n  provider: static\n  staticScores:\n    Monitor: 0.8\n    Backup: 0.4\n"
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))

	incidentPath = filepath.Join(dir, "incident.yaml")
	require.NoError(t, os.WriteFile(incidentPath, []byte(incidentYAML), 0o600))
	return configPath, incidentPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MIRADOR_REMEDIATION_CONFIG", "")
	var out, logs bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAnalyzeCommandBuildsDryRunPlan(t *testing.T) {
	configPath, incidentPath := writeFixtures(t)

	out, err := runCLI(t, "analyze", "--config", configPath, "--file", incidentPath, "--plan")
	require.NoError(t, err)

	var report analyzeReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.True(t, report.Analysis.Valid, report.Analysis.ErrorMessage)
	assert.Equal(t, "Monitor", report.Analysis.Recommendations[0].StrategyName)
	assert.InDelta(t, 0.656, report.Analysis.Recommendations[0].Confidence, 1e-9)

	require.NotNil(t, report.Plan)
	assert.Equal(t, "Monitor", report.Plan.StrategyName)
	assert.Equal(t, models.StatusWaitingForApproval, report.Plan.Status)
	assert.Equal(t, "corr-cli", report.Plan.CorrelationID)
}

func TestAnalyzeCommandReportsInvalidAnalysis(t *testing.T) {
	configPath, incidentPath := writeFixtures(t)
	unsupported := filepath.Join(filepath.Dir(incidentPath), "disk.yaml")
	require.NoError(t, os.WriteFile(unsupported, []byte("errorType: DiskFull\nsourceComponent: OrderService\n"), 0o600))

	out, err := runCLI(t, "analyze", "--config", configPath, "--file", unsupported)
	require.Error(t, err)

	var report analyzeReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Analysis.Valid)
	assert.Equal(t, models.FailureNoApplicableStrategies, report.Analysis.Failure)
}

func TestAnalyzeCommandRequiresFile(t *testing.T) {
	_, err := runCLI(t, "analyze")
	require.Error(t, err)
}
