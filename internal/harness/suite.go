package harness

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a run over many scenario files.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Results  []ScenarioOutcome `json:"scenarios"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioOutcome is one scenario's line in a suite.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "matched" or "updated"
	Errors []string `json:"errors,omitempty"`
}

// ScenarioFailure records why a scenario file failed.
type ScenarioFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ScenarioNotFoundError is returned when a scenario path does not exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios returns the YAML files under path in lexical order. A path
// naming a file is returned as is. filter, when set, is a glob matched
// against the file name without its extension.
func FindScenarios(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and checks every scenario file. A file that cannot be
// loaded or run counts as failed; RunSuite itself only errors when path
// cannot be searched.
//
// Each scenario goes through Check, so a nondeterministic trace fails it.
// A passing scenario with a golden file next to it (see GoldenPath) must
// also match that file byte for byte. With UpdateGoldens set the file is
// written instead.
func (h *Harness) RunSuite(ctx context.Context, path, filter string) (*SuiteResult, error) {
	files, err := FindScenarios(path, filter)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{Results: []ScenarioOutcome{}}
	for _, file := range files {
		suite.Total++
		outcome := h.runFile(ctx, file)
		suite.Results = append(suite.Results, outcome)
		if outcome.Pass {
			suite.Passed++
			continue
		}
		suite.Failed++
		suite.Failures = append(suite.Failures, ScenarioFailure{
			Path:  file,
			Error: strings.Join(outcome.Errors, "\n"),
		})
	}
	return suite, nil
}

func (h *Harness) runFile(ctx context.Context, file string) ScenarioOutcome {
	outcome := ScenarioOutcome{Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)), Path: file}

	scenario, err := LoadScenario(file)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return outcome
	}
	outcome.Name = scenario.Name

	result, err := h.Check(ctx, scenario)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
		return outcome
	}
	outcome.Pass = result.Pass
	outcome.Errors = result.Errors
	if outcome.Pass {
		h.checkGolden(file, scenario, result, &outcome)
	}
	return outcome
}

// GoldenPath returns the golden file of a scenario file: the same path with
// a .golden extension.
func GoldenPath(scenarioFile string) string {
	return strings.TrimSuffix(scenarioFile, filepath.Ext(scenarioFile)) + ".golden"
}

func (h *Harness) checkGolden(file string, scenario *Scenario, result *Result, outcome *ScenarioOutcome) {
	data, err := NewSnapshot(scenario.Name, result).Canonical()
	if err != nil {
		outcome.fail(fmt.Sprintf("snapshot: %v", err))
		return
	}
	path := GoldenPath(file)

	if h.UpdateGoldens {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			outcome.fail(fmt.Sprintf("golden update error: %v", err))
			return
		}
		outcome.Golden = "updated"
		return
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		outcome.fail(fmt.Sprintf("golden comparison error: %v", err))
		return
	}
	if !bytes.Equal(want, data) {
		outcome.fail("golden file mismatch (run with --update to regenerate)")
		return
	}
	outcome.Golden = "matched"
}

func (o *ScenarioOutcome) fail(msg string) {
	o.Pass = false
	o.Errors = append(o.Errors, msg)
}
