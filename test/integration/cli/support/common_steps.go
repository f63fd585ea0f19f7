package support

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/toraxia/cmd/toraxia/cmd"
	"github.com/MeKo-Tech/toraxia/internal/report"
)

// RegisterCommonSteps registers command execution and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "toraxia ?([^"]*)"$`, testCtx.iRunToraxia)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the error should contain "([^"]*)"$`, testCtx.theErrorShouldContain)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON output should have (\d+) findings?$`, testCtx.theJSONOutputShouldHaveFindings)
	sc.Step(`^the JSON output should explain "([^"]*)"$`, testCtx.theJSONOutputShouldExplain)
	sc.Step(`^the JSON output should list (\d+) images?$`, testCtx.theJSONOutputShouldListImages)
	sc.Step(`^the JSON output should list (\d+) failures?$`, testCtx.theJSONOutputShouldListFailures)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the CSV file "([^"]*)" should have (\d+) data rows$`, testCtx.theCSVFileShouldHaveRows)
	sc.Step(`^the report "([^"]*)" should have (\d+) pages$`, testCtx.theReportShouldHavePages)
}

// iRunToraxia executes the command tree in-process. Arguments are split on
// whitespace and relative paths resolve against the scenario directory.
func (testCtx *TestContext) iRunToraxia(args string) error {
	argv := strings.Fields(args)
	if testCtx.ConfigFile != "" {
		argv = append([]string{"--config", testCtx.ConfigFile}, argv...)
	}

	prev, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(testCtx.WorkDir); err != nil {
		return err
	}
	defer func() { _ = os.Chdir(prev) }()

	var stdout, stderr bytes.Buffer
	root := cmd.NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(argv)

	testCtx.LastCommand = "toraxia " + args
	testCtx.LastError = root.Execute()
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("%q failed: %w\nstderr:\n%s", testCtx.LastCommand, testCtx.LastError, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("%q succeeded unexpectedly", testCtx.LastCommand)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldContain(text string) error {
	if testCtx.LastError == nil {
		return errors.New("no error was returned")
	}
	if !strings.Contains(testCtx.LastError.Error(), text) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, text)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(text string) error {
	if !strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output does not contain %q:\n%s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains %q", text)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastOutput)) {
		return fmt.Errorf("output is not valid JSON:\n%s", testCtx.LastOutput)
	}
	return nil
}

// singleResult is the subset of one analysis result the steps inspect.
type singleResult struct {
	Findings []struct {
		Class string `json:"class"`
	} `json:"findings"`
	Explanations []struct {
		Class string `json:"class"`
	} `json:"explanations"`
}

func (testCtx *TestContext) decodeResult() (*singleResult, error) {
	var res singleResult
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &res, nil
}

func (testCtx *TestContext) theJSONOutputShouldHaveFindings(n int) error {
	res, err := testCtx.decodeResult()
	if err != nil {
		return err
	}
	if len(res.Findings) != n {
		return fmt.Errorf("expected %d findings, got %d", n, len(res.Findings))
	}
	return nil
}

func (testCtx *TestContext) theJSONOutputShouldExplain(class string) error {
	res, err := testCtx.decodeResult()
	if err != nil {
		return err
	}
	for _, ex := range res.Explanations {
		if ex.Class == class {
			return nil
		}
	}
	return fmt.Errorf("no explanation for %q in output", class)
}

type batchOutput struct {
	Images   []json.RawMessage `json:"images"`
	Failures []json.RawMessage `json:"failures"`
}

func (testCtx *TestContext) decodeBatch() (*batchOutput, error) {
	var out batchOutput
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &out); err != nil {
		return nil, fmt.Errorf("failed to decode batch output: %w", err)
	}
	return &out, nil
}

func (testCtx *TestContext) theJSONOutputShouldListImages(n int) error {
	out, err := testCtx.decodeBatch()
	if err != nil {
		return err
	}
	if len(out.Images) != n {
		return fmt.Errorf("expected %d images, got %d", n, len(out.Images))
	}
	return nil
}

func (testCtx *TestContext) theJSONOutputShouldListFailures(n int) error {
	out, err := testCtx.decodeBatch()
	if err != nil {
		return err
	}
	if len(out.Failures) != n {
		return fmt.Errorf("expected %d failures, got %d", n, len(out.Failures))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if _, err := os.Stat(testCtx.Path(name)); err != nil {
		return fmt.Errorf("expected file %s: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theCSVFileShouldHaveRows(name string, n int) error {
	f, err := os.Open(testCtx.Path(name))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("invalid CSV: %w", err)
	}
	if len(rows)-1 != n {
		return fmt.Errorf("expected %d data rows, got %d", n, len(rows)-1)
	}
	return nil
}

func (testCtx *TestContext) theReportShouldHavePages(name string, n int) error {
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}
	pages, err := report.PageCount(data)
	if err != nil {
		return err
	}
	if pages != n {
		return fmt.Errorf("expected %d pages, got %d", n, pages)
	}
	return nil
}
