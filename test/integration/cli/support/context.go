package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/toraxia/internal/server"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand string
	LastOutput  string
	LastStderr  string
	LastError   error

	// Test environment
	WorkDir    string
	ModelsDir  string
	ConfigFile string

	// Server state
	HTTPServer *httptest.Server
	Server     *server.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string
	LastAnalysisID     string
}

// NewTestContext creates a scenario context with its own work directory.
func NewTestContext() (*TestContext, error) {
	work, err := os.MkdirTemp("", "toraxia-cli-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	models := filepath.Join(work, "models")
	if err := os.MkdirAll(models, 0o755); err != nil {
		_ = os.RemoveAll(work)
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}
	return &TestContext{
		WorkDir:         work,
		ModelsDir:       models,
		LastHTTPHeaders: map[string]string{},
	}, nil
}

// Path resolves name against the scenario work directory.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.WorkDir, name)
}

// StopServer stops the running test server, if any.
func (testCtx *TestContext) StopServer() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		err := testCtx.Server.Close()
		testCtx.Server = nil
		return err
	}
	return nil
}

// Cleanup stops the server and removes the work directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if err := testCtx.StopServer(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
	}
	if err := os.RemoveAll(testCtx.WorkDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove %s: %w", testCtx.WorkDir, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
