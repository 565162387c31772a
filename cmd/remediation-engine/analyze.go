package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-remediation/internal/api"
	"github.com/miradorstack/mirador-remediation/internal/config"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

type analyzeOptions struct {
	file     string
	remote   string
	withPlan bool
	timeout  time.Duration
}

func newAnalyzeCommand(configPath *string) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Rank remediation strategies for an error context file without executing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			errCtx, err := loadErrorContext(opts.file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if opts.remote != "" {
				return analyzeRemote(ctx, opts.remote, errCtx, cmd.OutOrStdout())
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return analyzeLocal(ctx, cfg, errCtx, opts.withPlan, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML error context to analyse")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "Address of a running remediation service; analyses locally when empty")
	cmd.Flags().BoolVar(&opts.withPlan, "plan", false, "Also build (but not run) the remediation plan")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall analysis timeout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func loadErrorContext(path string) (models.ErrorContext, error) {
	var errCtx models.ErrorContext
	data, err := os.ReadFile(path)
	if err != nil {
		return errCtx, fmt.Errorf("read error context: %w", err)
	}
	if err := yaml.Unmarshal(data, &errCtx); err != nil {
		return errCtx, fmt.Errorf("parse error context: %w", err)
	}
	return api.NormalizeErrorContext(errCtx), nil
}

type analyzeReport struct {
	Analysis models.AnalysisResult   `json:"analysis"`
	Plan     *models.RemediationPlan `json:"plan,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func analyzeLocal(ctx context.Context, cfg *config.Config, errCtx models.ErrorContext, withPlan bool, out, logs io.Writer) error {
	logger := utils.NewLoggerTo(logs, cfg.Logging.Level, cfg.Logging.JSON)
	parts, err := buildComponents(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer parts.Close()

	var report analyzeReport
	if withPlan {
		p, analysis, err := parts.orchestrator.Plan(ctx, errCtx)
		report.Analysis, report.Plan = analysis, p
		if err != nil {
			report.Error = err.Error()
		}
	} else {
		report.Analysis = parts.orchestrator.Analyze(ctx, errCtx)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Analysis.Valid {
		return fmt.Errorf("analysis failed: %s", report.Analysis.Failure)
	}
	return nil
}

func analyzeRemote(ctx context.Context, addr string, errCtx models.ErrorContext, out io.Writer) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	req, err := api.Encode(api.AnalyzeRequest{ErrorContext: errCtx})
	if err != nil {
		return err
	}
	resp, err := api.NewClient(conn).Invoke(ctx, api.MethodAnalyze, req)
	if err != nil {
		return fmt.Errorf("remote analyze: %w", err)
	}
	body, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(body))
	return err
}
