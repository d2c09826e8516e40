// CLI for running beat detectors against simulated audio.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-beat/logging"
	"github.com/RyanBlaney/sonido-beat/simulate"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "beatsim",
	Short:         "Simulate real-time beat detection",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the low, mid and high detectors over a synthetic beat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		bpm, _ := flags.GetFloat64("bpm")
		duration, _ := flags.GetFloat64("duration")
		fps, _ := flags.GetFloat64("fps")
		source, _ := flags.GetString("source")
		seed, _ := flags.GetInt64("seed")
		out, _ := flags.GetString("out")
		debug, _ := flags.GetBool("debug")
		level, _ := flags.GetString("log-level")

		if fps <= 0 {
			return fmt.Errorf("fps must be positive, got %g", fps)
		}

		sc := simulate.DefaultScenario()
		sc.BPM = bpm
		sc.Duration = duration
		sc.FrameInterval = 1.0 / fps
		sc.Source = source
		sc.Seed = seed
		sc.Debug = debug

		if debug {
			level = "debug"
		}
		return runSimulation(cmd.Context(), sc, out, level)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "beatsim", version)
	},
}

func init() {
	defaults := simulate.DefaultScenario()

	runCmd.Flags().Float64("bpm", defaults.BPM, "Simulated tempo")
	runCmd.Flags().Float64("duration", defaults.Duration, "Seconds to simulate")
	runCmd.Flags().Float64("fps", 1.0/defaults.FrameInterval, "Frames per second fed to the detectors")
	runCmd.Flags().String("source", defaults.Source, "Frame source: spectrum or pcm")
	runCmd.Flags().Int64("seed", defaults.Seed, "Random seed for the synthetic signal")
	runCmd.Flags().StringP("out", "o", "", "Write the JSON report to this file instead of stdout")
	runCmd.Flags().Bool("debug", false, "Log per-beat detector state")
	runCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runSimulation(ctx context.Context, sc *simulate.Scenario, out, level string) error {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	// the report owns stdout
	logger := logging.NewWriterLogger(os.Stderr, os.Stderr)
	logger.SetLevel(lvl)
	logging.SetGlobalLogger(logger)

	report, err := simulate.Run(ctx, sc)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	if out == "" {
		return writeReport(os.Stdout, report)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := writeReport(f, report); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}

	logging.Info("Report written", logging.Fields{"path": out})
	return nil
}

func writeReport(w io.Writer, report *simulate.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
