package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/toraxia/internal/attribution"
	"github.com/MeKo-Tech/toraxia/internal/benchmark"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/utils"
)

func newBenchmarkCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark <image>",
		Short: "Time analysis and explanation per attribution mode",
		Long: `Build one analyzer per attribution mode and time the full analysis of the
image and the explanation of a class on the retained analysis.

The class defaults to the top finding of each mode's first analysis.

Examples:
  toraxia benchmark chest.png
  toraxia benchmark chest.png --modes gradcam,saliency --class Effusion -n 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, a, args[0])
		},
	}
	addAnalyzerFlags(cmd)
	cmd.Flags().IntP("iterations", "n", 3, "iterations per stage")
	cmd.Flags().String("class", "", "class to explain (default: top finding)")
	cmd.Flags().StringSlice("modes", []string{"gradcam", "saliency", "auto"}, "attribution modes to compare")
	cmd.Flags().StringP("output", "o", "", "write the comparison to a file")
	return cmd
}

func runBenchmark(cmd *cobra.Command, a *app, path string) error {
	cfg := a.config()
	if err := applyAnalyzerFlags(cmd, cfg); err != nil {
		return err
	}
	iterations, _ := cmd.Flags().GetInt("iterations")
	if iterations < 1 {
		return fmt.Errorf("invalid iterations: %d", iterations)
	}
	class, _ := cmd.Flags().GetString("class")
	names, _ := cmd.Flags().GetStringSlice("modes")
	modes := make([]attribution.Mode, 0, len(names))
	for _, n := range names {
		m, err := attribution.ParseMode(n)
		if err != nil {
			return err
		}
		modes = append(modes, m)
	}

	img, _, err := utils.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	pc := cfg.ToPipelineConfig()
	build := func(m attribution.Mode) (*pipeline.Analyzer, error) {
		return pipeline.NewBuilder().WithConfig(pc).WithMode(m).Build()
	}
	slog.Info("Running benchmark", "image", path, "modes", names, "iterations", iterations)
	results := benchmark.CompareModes(build, modes, img, class, iterations)

	output, _ := cmd.Flags().GetString("output")
	w, closeOut, err := openOutput(cmd, output)
	if err != nil {
		return err
	}
	benchmark.PrintComparison(w, results)
	if err := closeOut(); err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Mode, r.Error))
		}
	}
	if len(errs) == len(results) {
		return fmt.Errorf("all modes failed: %w", errors.Join(errs...))
	}
	return nil
}
