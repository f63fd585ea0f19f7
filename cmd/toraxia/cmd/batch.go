package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/toraxia/internal/batch"
	"github.com/MeKo-Tech/toraxia/internal/config"
	"github.com/MeKo-Tech/toraxia/internal/utils"
)

func newBatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <files or directories...>",
		Short: "Analyze many radiographs in parallel",
		Long: `Analyze every supported image found in the given files and directories with a
pool of workers and write one combined result.

Supported formats: PNG, JPEG, BMP, TIFF

Examples:
  toraxia batch studies/
  toraxia batch studies/ --recursive --workers 8
  toraxia batch studies/ --format csv --output findings.csv
  toraxia batch studies/ --include 'pa_*' --overlay-dir overlays --stats`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			if err := applyAnalyzerFlags(cmd, cfg); err != nil {
				return err
			}
			bc := configToBatchConfig(cfg, cmd)

			res, err := batch.ProcessBatch(cmd.Context(), args, bc)
			if err != nil {
				return err
			}
			if err := res.SaveResults(cmd.OutOrStdout(), bc.Format, bc.OutputFile, bc.Quiet); err != nil {
				return err
			}
			if bc.ShowStats {
				res.PrintStats(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	addAnalyzerFlags(cmd)
	f := cmd.Flags()
	f.StringP("format", "f", outputFormatText, "output format: text, json or csv")
	f.StringP("output", "o", "", "write results to this file instead of stdout")
	f.String("overlay-dir", "", "write overlay PNGs to this directory")
	f.StringArray("class", nil, "explain this class for every image (repeatable)")
	f.IntP("workers", "w", 4, "number of parallel workers")
	f.BoolP("recursive", "r", false, "search directories recursively")
	f.StringSlice("include", nil, "only process files matching these glob patterns")
	f.StringSlice("exclude", nil, "skip files matching these glob patterns")
	f.Bool("stop-on-error", false, "abort the batch on the first failed image")
	f.Bool("progress", false, "show a progress bar on stderr")
	f.BoolP("quiet", "q", false, "suppress informational output")
	f.Bool("stats", false, "print processing statistics to stderr")
	return cmd
}

// configToBatchConfig maps the centralized configuration to batch.Config,
// with batch flags taking precedence.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	f := cmd.Flags()
	bc := &batch.Config{
		Pipeline:        cfg.ToPipelineConfig(),
		Language:        cfg.Output.Language,
		OverlayDir:      cfg.Output.OverlayDir,
		Format:          cfg.Output.Format,
		OutputFile:      cfg.Output.File,
		Workers:         cfg.Batch.Workers,
		ContinueOnError: cfg.Batch.ContinueOnError,
		Constraints:     utils.DefaultImageConstraints(),
		Recursive:       cfg.Batch.Recursive,
	}
	if changed(f, "workers") {
		bc.Workers, _ = f.GetInt("workers")
	}
	if changed(f, "recursive") {
		bc.Recursive, _ = f.GetBool("recursive")
	}
	if changed(f, "stop-on-error") {
		stop, _ := f.GetBool("stop-on-error")
		bc.ContinueOnError = !stop
	}
	bc.Classes, _ = f.GetStringArray("class")
	bc.IncludePatterns, _ = f.GetStringSlice("include")
	bc.ExcludePatterns, _ = f.GetStringSlice("exclude")
	bc.ShowProgress, _ = f.GetBool("progress")
	bc.Quiet, _ = f.GetBool("quiet")
	bc.ShowStats, _ = f.GetBool("stats")
	return bc
}
