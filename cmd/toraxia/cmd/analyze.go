package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/toraxia/internal/config"
	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/report"
	"github.com/MeKo-Tech/toraxia/internal/utils"
)

const (
	outputFormatJSON = "json"
	outputFormatCSV  = "csv"
	outputFormatText = "text"
)

func newAnalyzeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <image...>",
		Short: "Classify chest radiographs and explain the findings",
		Long: `Classify one or more chest radiographs, rank the pathologies and explain the
top-ranked class with an attention heatmap. Additional classes can be explained
with --class.

Supported formats: PNG, JPEG, BMP, TIFF

Examples:
  toraxia analyze chest.png
  toraxia analyze chest.png --class Effusion --class Mass --overlay-dir overlays
  toraxia analyze chest.png --report chest.pdf --lang es
  toraxia analyze *.png --format csv --output findings.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			if err := applyAnalyzerFlags(cmd, cfg); err != nil {
				return err
			}
			classes, _ := cmd.Flags().GetStringArray("class")
			reportPath, _ := cmd.Flags().GetString("report")
			if reportPath != "" && len(args) > 1 {
				return errors.New("--report requires a single image")
			}
			return runAnalyze(cmd, cfg, args, classes, reportPath)
		},
	}
	addAnalyzerFlags(cmd)
	cmd.Flags().StringArray("class", nil, "explain this class as well (repeatable, English or Spanish name)")
	cmd.Flags().String("overlay-dir", "", "write overlay PNGs to this directory")
	cmd.Flags().String("report", "", "write a PDF report to this file")
	cmd.Flags().StringP("format", "f", outputFormatText, "output format: text, json or csv")
	cmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
	return cmd
}

func runAnalyze(cmd *cobra.Command, cfg *config.Config, paths, classes []string, reportPath string) error {
	an, err := pipeline.NewBuilder().WithConfig(cfg.ToPipelineConfig()).Build()
	if err != nil {
		return fmt.Errorf("failed to build analyzer: %w", err)
	}
	defer func() {
		if err := an.Close(); err != nil {
			slog.Error("Error closing analyzer", "error", err)
		}
	}()

	tr := i18n.New(cfg.Output.Language)
	var results []*pipeline.Result
	var failed int
	for _, path := range paths {
		res, err := analyzeOne(an, tr, cfg, path, classes, reportPath)
		if err != nil {
			if errors.Is(err, pipeline.ErrUnknownClass) {
				return err
			}
			failed++
			slog.Error("Analysis failed", "file", path, "error", err)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		results = append(results, res)
	}

	if len(results) > 0 {
		w, closeFn, err := openOutput(cmd, cfg.Output.File)
		if err != nil {
			return err
		}
		if err := writeResults(w, cfg.Output.Format, results, tr); err != nil {
			_ = closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}
	return nil
}

// analyzeOne analyzes path, explains the extra classes and writes the
// requested artifacts.
func analyzeOne(an *pipeline.Analyzer, tr *i18n.Translator, cfg *config.Config,
	path string, classes []string, reportPath string,
) (*pipeline.Result, error) {
	fr := an.AnalyzeFile(path, utils.DefaultImageConstraints())
	if fr.Err != nil {
		return nil, fr.Err
	}
	analysis := fr.Analysis

	explanations := []*pipeline.Explanation{analysis.Explanation}
	for _, name := range classes {
		if canonical, ok := tr.Canonical(name); ok {
			name = canonical
		}
		ex, err := an.ExplainName(analysis, name)
		if err != nil {
			return nil, err
		}
		explanations = append(explanations, ex)
	}

	res, err := pipeline.NewResult(analysis, tr, explanations[1:]...)
	if err != nil {
		return nil, err
	}
	res.File = path

	if dir := cfg.Output.OverlayDir; dir != "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for i, ex := range explanations {
			p, err := pipeline.SaveOverlay(dir, base, ex)
			if err != nil {
				return nil, err
			}
			res.Explanations[i].OverlayPath = p
		}
	}

	if reportPath != "" {
		b, err := pipeline.ReportBundle(filepath.Base(path), analysis, tr, explanations...)
		if err != nil {
			return nil, err
		}
		if err := report.WriteFile(reportPath, b); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		slog.Info("Report written", "file", reportPath, "pages", len(b.Pages)+1)
	}
	return res, nil
}

func writeResults(w io.Writer, format string, results []*pipeline.Result, tr *i18n.Translator) error {
	var out string
	var err error
	switch format {
	case outputFormatJSON:
		if len(results) == 1 {
			out, err = pipeline.ToJSON(results[0])
		} else {
			out, err = pipeline.ToJSONResults(results)
		}
		out += "\n"
	case outputFormatCSV:
		out, err = pipeline.ToCSV(results...)
	default:
		parts := make([]string, 0, len(results))
		for _, res := range results {
			text, terr := pipeline.ToPlainText(res, tr)
			if terr != nil {
				return terr
			}
			parts = append(parts, text)
		}
		out = strings.Join(parts, "\n")
	}
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
