package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/wgctest/internal/config"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/scenarios"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "wgctest",
	Short: "Screen capture correctness harness",
	Long: `wgctest renders known content into windows and visuals, captures it
through the platform capture service and checks the captured pixels.`,
	SilenceUsage: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available tests",
	Run: func(cmd *cobra.Command, args []string) {
		all := scenarios.All()
		width := 0
		for _, s := range all {
			width = max(width, len(s.Name))
		}
		name := lipgloss.NewStyle().Bold(true).Width(width + 2)
		for _, s := range all {
			fmt.Fprintln(cmd.OutOrStdout(), name.Render(s.Name)+s.Description)
		}
	},
}

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List display outputs of the default adapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		outs, err := gpu.ListOutputs()
		if err != nil {
			return fmt.Errorf("enumerate outputs: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tNAME\tPOSITION\tSIZE\tPRIMARY")
		for _, o := range outs {
			fmt.Fprintf(w, "%d\t%s\t%d,%d\t%dx%d\t%t\n", o.Index, o.Name, o.X, o.Y, o.Width, o.Height, o.IsPrimary)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wgctest v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveTo(config.Default(), cfgFile); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration written.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "backend: %s\n", cfg.Backend)
		fmt.Fprintf(out, "tests: %v\n", cfg.Tests)
		fmt.Fprintf(out, "frame_timeout_seconds: %d\n", cfg.FrameTimeoutSeconds)
		fmt.Fprintf(out, "settle_delay_ms: %d\n", cfg.SettleDelayMs)
		fmt.Fprintf(out, "backpressure: %s\n", cfg.Backpressure)
		fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
		fmt.Fprintf(out, "report_path: %s\n", cfg.ReportPath)
		fmt.Fprintf(out, "artifacts.sink: %s\n", cfg.Artifacts.Sink)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./wgctest.yaml)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration. Clamped values are
// logged as warnings; anything fatal stops the command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	r := cfg.ValidateTiered()
	for _, w := range r.Warnings {
		log.Warn("config corrected", logging.KeyError, w)
	}
	if r.HasFatals() {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(r.Fatals...))
	}
	return cfg, nil
}
