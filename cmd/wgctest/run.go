package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/wgctest/internal/artifact"
	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/config"
	"github.com/breeze-rmm/wgctest/internal/fixture"
	"github.com/breeze-rmm/wgctest/internal/harness"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/scenarios"
)

// exit is swapped in tests.
var exit = os.Exit

// lookupScenario resolves --test names.
var lookupScenario = scenarios.Lookup

type runOptions struct {
	backend string
	tests   []string
	report  string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture tests",
		Long: `Run the capture tests one after another and print one line per test:
"<name>: PASSED", "<name>: FAILED - <message>" or "<name>: SKIPPED - <reason>".
The exit code is 1 when any test failed.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			failed, err := runTests(cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}
			if failed {
				exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.backend, "backend", "", "capture backend: auto, windows or software")
	cmd.Flags().StringSliceVar(&opts.tests, "test", nil, "test to run (repeatable, default all)")
	cmd.Flags().StringVar(&opts.report, "report", "", "write a YAML run report to this path")
	return cmd
}

func runTests(stdout io.Writer, opts *runOptions) (failed bool, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return false, err
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if len(opts.tests) > 0 {
		cfg.Tests = opts.tests
	}
	if opts.report != "" {
		cfg.ReportPath = opts.report
	}

	runLog, err := initLogging(cfg)
	if err != nil {
		return false, err
	}
	if runLog != nil {
		defer func() {
			logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
			runLog.Close()
		}()
	}

	list, err := selectScenarios(cfg.Tests)
	if err != nil {
		return false, err
	}
	bp, err := capture.ParseBackpressure(cfg.Backpressure)
	if err != nil {
		return false, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := fixture.Open(cfg.Backend, fixture.Options{
		SettleDelay:  time.Duration(cfg.SettleDelayMs) * time.Millisecond,
		Backpressure: bp,
	})
	if err != nil {
		return false, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			log.Warn("backend close failed", logging.KeyError, cerr)
		}
	}()

	exporter, err := artifact.NewExporterFromConfig(ctx, cfg.Artifacts)
	if err != nil {
		return false, fmt.Errorf("artifact sink: %w", err)
	}

	log.Info("starting run",
		logging.KeyBackend, backend.Name(),
		"tests", len(list),
		"backpressure", bp.String())

	opts := []harness.Option{
		harness.WithOutput(stdout),
		harness.WithFrameTimeout(time.Duration(cfg.FrameTimeoutSeconds) * time.Second),
	}
	if exporter != nil {
		opts = append(opts, harness.WithExporter(exporter))
	}
	rep := harness.NewRunner(backend, opts...).Run(ctx, list)

	if cfg.ReportPath != "" {
		rep.Host = harness.CollectHost(ctx)
		if runLog != nil {
			rep.LogFiles = runLog.Files()
		}
		if err := rep.WriteFile(cfg.ReportPath); err != nil {
			log.Error("failed to write report", logging.KeyError, err)
		}
	}
	log.Info("run finished",
		"passed", rep.Summary.Passed,
		"failed", rep.Summary.Failed,
		"skipped", rep.Summary.Skipped)
	return rep.Failed(), nil
}

func selectScenarios(names []string) ([]scenarios.Scenario, error) {
	if len(names) == 0 {
		return scenarios.All(), nil
	}
	list := make([]scenarios.Scenario, 0, len(names))
	for _, name := range names {
		s, ok := lookupScenario(name)
		if !ok {
			return nil, fmt.Errorf("unknown test %q (see 'wgctest list')", name)
		}
		list = append(list, s)
	}
	return list, nil
}

// initLogging routes logs to stderr, and also to a per-run log file when
// log_file is set. Stdout stays reserved for result lines.
func initLogging(cfg *config.Config) (*logging.RunLog, error) {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
		return nil, nil
	}
	runLog, err := logging.OpenRunLog(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logging.TeeWriter(os.Stderr, runLog))
	return runLog, nil
}
