package batch

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
)

// processor turns per-file analyses into output results.
type processor struct {
	a          *pipeline.Analyzer
	tr         *i18n.Translator
	classes    []string
	overlayDir string
}

func newProcessor(a *pipeline.Analyzer, config *Config) (*processor, error) {
	tr := i18n.New(config.Language)
	classes, err := resolveClasses(a.Labels(), config.Classes, tr)
	if err != nil {
		return nil, err
	}
	return &processor{a: a, tr: tr, classes: classes, overlayDir: config.OverlayDir}, nil
}

// resolveClasses maps requested names, translated ones included, to model
// labels. Unknown names fail the whole batch before any work starts.
func resolveClasses(labels, requested []string, tr *i18n.Translator) ([]string, error) {
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if canonical, ok := tr.Canonical(name); ok {
			name = canonical
		}
		found := ""
		for _, l := range labels {
			if strings.EqualFold(l, name) {
				found = l
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownClass, name)
		}
		out = append(out, found)
	}
	return out, nil
}

// finish explains the extra classes, saves overlays and builds the result.
func (p *processor) finish(fr pipeline.FileResult) (*pipeline.Result, error) {
	an := fr.Analysis
	explanations := []*pipeline.Explanation{an.Explanation}
	for _, name := range p.classes {
		ex, err := p.a.ExplainName(an, name)
		if err != nil {
			return nil, err
		}
		explanations = append(explanations, ex)
	}

	res, err := pipeline.NewResult(an, p.tr, explanations[1:]...)
	if err != nil {
		return nil, err
	}
	res.File = fr.Path

	if p.overlayDir != "" {
		base := filepath.Base(fr.Path)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		for i, ex := range explanations {
			path, err := pipeline.SaveOverlay(p.overlayDir, base, ex)
			if err != nil {
				return nil, err
			}
			res.Explanations[i].OverlayPath = path
		}
	}
	return res, nil
}

func workerCount(workers, files int) int {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return min(workers, files)
}
