// Package cmd implements the toraxia command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/toraxia/internal/config"
	"github.com/MeKo-Tech/toraxia/internal/version"
)

// app carries the configuration shared by every subcommand of one command tree.
type app struct {
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config
}

// rootFlags maps persistent flags to configuration keys.
var rootFlags = map[string]string{
	"verbose":    "verbose",
	"log-level":  "log_level",
	"models-dir": "models_dir",
}

// NewRootCommand builds the complete command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "toraxia",
		Short: "Explainable multi-label chest X-ray classification",
		Long: `toraxia classifies chest radiographs into thoracic pathologies and explains
each prediction with a heatmap over the image.

This tool provides:
- Multi-label classification with per-class decision thresholds
- Grad-CAM attribution with a saliency fallback
- Heatmap overlays, PDF reports and Spanish pathology names
- Both CLI and server modes
- Inference with ONNX Runtime or the built-in reference model

Examples:
  toraxia analyze chest.png
  toraxia analyze chest.png --class Effusion --overlay-dir overlays
  toraxia batch studies/ --format csv --output findings.csv
  toraxia serve --port 8080`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "toraxia version "+version.String())
				return nil
			}
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/toraxia, /etc/toraxia)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("models-dir", "",
		"directory containing the classifier files (can also be set via TORAXIA_MODELS_DIR)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	rootCmd.AddCommand(
		newAnalyzeCommand(a),
		newBatchCommand(a),
		newServeCommand(a),
		newModelCommand(a),
		newConfigCommand(a),
		newBenchmarkCommand(a),
	)
	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// setup loads the configuration and installs the JSON logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	for flag, key := range rootFlags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	a.loader = config.NewLoaderWithViper(v)

	var err error
	if a.cfgFile != "" {
		a.cfg, err = a.loader.LoadWithFile(a.cfgFile)
	} else {
		a.cfg, err = a.loader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), a.cfg))
	slog.Debug("Configuration loaded", "file", a.loader.GetConfigFileUsed())
	return nil
}

// newLogger writes JSON logs to w. Stdout stays free for results.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// config returns the loaded configuration. Subcommands always run after setup.
func (a *app) config() *config.Config {
	if a.cfg == nil {
		cfg := config.DefaultConfig()
		a.cfg = &cfg
	}
	return a.cfg
}

// changed reports whether a flag was set on the command line.
func changed(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}

// openOutput returns stdout or a created file; the closer is a no-op for stdout.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: output path from CLI flag
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
