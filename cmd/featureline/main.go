// Command featureline runs the versioned feature engineering pipeline:
// it loads source datasets, executes each declared feature version, commits
// artifacts atomically, and records audit and lineage trails.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrafield-labs/featureline/internal/artifacts"
	"github.com/terrafield-labs/featureline/internal/audit"
	"github.com/terrafield-labs/featureline/internal/catalog"
	"github.com/terrafield-labs/featureline/internal/config"
	"github.com/terrafield-labs/featureline/internal/domain"
	"github.com/terrafield-labs/featureline/internal/lineage"
	"github.com/terrafield-labs/featureline/internal/objectstore"
	"github.com/terrafield-labs/featureline/internal/pipeline"
)

const auditFile = "audit_log.ndjson"

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var (
		configDir string
		force     bool
		only      string
	)
	exitCode := 0

	root := &cobra.Command{
		Use:           "featureline",
		Short:         "Versioned agricultural feature engineering pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", "", "directory containing featureline.yaml")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the declared feature versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			code, err := executeRun(cmd.Context(), logger, cfg, pipeline.Options{Force: force, Only: only, Workers: cfg.Workers, StepTimeout: cfg.StepTimeout})
			if err != nil {
				return err
			}
			exitCode = code
			return nil
		},
	}
	runCmd.Flags().BoolVar(&force, "force", false, "recompute every version, ignoring fingerprint matches")
	runCmd.Flags().StringVar(&only, "only", "", "run a single version by label")
	root.AddCommand(runCmd)
	root.AddCommand(auditCmd(logger, &configDir))
	root.AddCommand(lineageCmd(logger, &configDir))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		return 2
	}
	return exitCode
}

func executeRun(ctx context.Context, logger *slog.Logger, cfg config.Config, opts pipeline.Options) (int, error) {
	format, err := artifacts.ParseFormat(cfg.ArtifactFormat)
	if err != nil {
		return 0, err
	}
	writer, err := artifacts.NewWriter(cfg.OutputDir, format)
	if err != nil {
		return 0, err
	}

	sinks, closers, err := buildSinks(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, close := range closers {
			if err := close(); err != nil {
				logger.Warn("audit sink close", "error", err)
			}
		}
	}()
	auditLog := audit.NewLog(time.Now, sinks...)

	versions := pipeline.DefaultVersions()
	if cfg.PipelineFile != "" {
		versions, err = pipeline.LoadDocument(cfg.PipelineFile)
		if err != nil {
			return 0, err
		}
	}

	orch, err := pipeline.New(logger, catalog.NewDirProvider(cfg.InputDir), writer, auditLog, lineage.NewTracker(time.Now), versions, time.Now)
	if err != nil {
		return 0, err
	}

	report, err := orch.Run(ctx, opts)
	if err != nil {
		return 0, err
	}

	if cfg.ObjectStore.Enabled {
		if err := publish(ctx, cfg, writer, report); err != nil {
			logger.Warn("artifact publish incomplete", "error", err)
		}
	}

	fmt.Println(report.Summary())
	return report.ExitCode(), nil
}

func buildSinks(ctx context.Context, cfg config.Config) ([]audit.Sink, []func() error, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output root: %w", err)
	}
	fileSink, err := audit.OpenFileSink(filepath.Join(cfg.OutputDir, auditFile))
	if err != nil {
		return nil, nil, err
	}
	sinks := []audit.Sink{fileSink}
	closers := []func() error{fileSink.Close}

	if cfg.AuditMirrorDSN != "" {
		mirror, err := audit.OpenPostgresMirror(ctx, cfg.AuditMirrorDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit mirror: %w", err)
		}
		sinks = append(sinks, mirror)
		closers = append(closers, mirror.Close)
	}
	return sinks, closers, nil
}

// publish uploads every artifact committed in this run plus the metadata
// document. Publish failure never changes the run outcome; artifacts on
// local disk remain the source of truth.
func publish(ctx context.Context, cfg config.Config, writer *artifacts.Writer, report domain.RunReport) error {
	publisher, err := objectstore.NewPublisher(cfg.ObjectStore.ClientConfig())
	if err != nil {
		return err
	}
	if err := publisher.EnsureBucket(ctx); err != nil {
		return err
	}
	for _, v := range report.Versions {
		if v.Status != domain.VersionCommitted {
			continue
		}
		if err := publisher.PublishFile(ctx, writer.ArtifactPath(v.Version)); err != nil {
			return err
		}
	}
	return publisher.PublishFile(ctx, filepath.Join(writer.Root(), artifacts.MetadataFile))
}

func auditCmd(logger *slog.Logger, configDir *string) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recorded audit events from the last runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}
			f, err := os.Open(filepath.Join(cfg.OutputDir, auditFile))
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer f.Close()
			events, err := audit.ReadNDJSON(f)
			if err != nil {
				return err
			}
			for _, event := range events {
				if event.Seq <= since {
					continue
				}
				fmt.Printf("%6d  %-18s %-8s %-20s %s\n", event.Seq, event.Kind, event.Version, event.Step, event.OccurredAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only print events after this sequence number")
	return cmd
}

func lineageCmd(logger *slog.Logger, configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage <feature-column>",
		Short: "Trace a feature column back to its source datasets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}
			meta, ok, err := artifacts.ReadMetadata(cfg.OutputDir)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no metadata document under %s, run the pipeline first", cfg.OutputDir)
			}
			tracker := lineage.NewTracker(time.Now)
			if err := tracker.Restore(meta.Lineage); err != nil {
				return err
			}
			chain, err := tracker.Query(args[0])
			if err != nil {
				return err
			}
			for _, node := range chain {
				switch node.Kind {
				case domain.LineageSource:
					fmt.Printf("source  %-24s fingerprint=%s rows=%d\n", node.Artifact, shortHash(node.Fingerprint), node.RowCount)
				default:
					fmt.Printf("step    %s/%s columns=%v fingerprint=%s\n", node.Version, node.Step, node.Columns, shortHash(node.Fingerprint))
				}
			}
			return nil
		},
	}
	return cmd
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
