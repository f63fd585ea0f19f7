package support

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/toraxia/internal/testutil"
)

// RegisterImageSteps registers steps that prepare input radiographs.
func (testCtx *TestContext) RegisterImageSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a reference classifier$`, testCtx.aReferenceClassifier)
	sc.Step(`^a (\d+)x(\d+) radiograph "([^"]*)"$`, testCtx.aRadiograph)
	sc.Step(`^a directory "([^"]*)" with (\d+) radiographs?$`, testCtx.aDirectoryWithRadiographs)
	sc.Step(`^a corrupt image "([^"]*)"$`, testCtx.aCorruptImage)
}

// aReferenceClassifier writes a config file selecting the seeded reference
// backend, which needs no model files.
func (testCtx *TestContext) aReferenceClassifier() error {
	testCtx.ConfigFile = testCtx.Path("toraxia.yaml")
	content := fmt.Sprintf("models_dir: %s\nlog_level: warn\nmodel:\n  backend: reference\n", testCtx.ModelsDir)
	return os.WriteFile(testCtx.ConfigFile, []byte(content), 0o600)
}

func (testCtx *TestContext) aRadiograph(width, height int, name string) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return imaging.Save(testutil.Xray(width, height), path)
}

func (testCtx *TestContext) aDirectoryWithRadiographs(dir string, n int) error {
	if err := os.MkdirAll(testCtx.Path(dir), 0o755); err != nil {
		return err
	}
	for i := range n {
		if err := testCtx.aRadiograph(96, 96, filepath.Join(dir, fmt.Sprintf("study_%02d.png", i+1))); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) aCorruptImage(name string) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("not a png"), 0o600)
}
