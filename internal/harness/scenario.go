package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ncd/internal/engine"
)

// DefaultTimeout bounds a scenario run that sets no timeout.
const DefaultTimeout = 10 * time.Second

// Scenario defines a conformance test scenario: one program run and the
// assertions its trace and output must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is a .cue file, a CUE package directory or a compiled image.
	// Relative paths are resolved against the scenario file's directory.
	Program string `yaml:"program,omitempty"`

	// Source is inline CUE, used instead of Program.
	Source string `yaml:"source,omitempty"`

	// RunID is stamped on every trace event. Defaults to
	// testutil.DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`

	// ExitCode is the code the program must exit with.
	ExitCode int `yaml:"exit_code"`

	// Error, when set, is the RuntimeError code the run must fail with
	// (for example PROCESS_FAILED). Empty means the run must not fail.
	Error string `yaml:"error,omitempty"`

	// Timeout bounds the run. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Assertions validate the final trace, output and store rows.
	Assertions []Assertion `yaml:"assertions"`
}

func (s *Scenario) timeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// EventMatch selects trace events. Zero fields match anything.
type EventMatch struct {
	Process string `yaml:"process,omitempty"`

	// Statement is nil to match any statement and -1 for process level
	// events.
	Statement *int `yaml:"statement,omitempty"`

	Cmd  string `yaml:"cmd,omitempty"`
	Kind string `yaml:"kind,omitempty"`

	// Detail matches when the event's detail contains it.
	Detail string `yaml:"detail,omitempty"`
}

// Assertion validates trace, output or final store state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": some event matches
	// - "trace_order": events matching Events occur in that order
	// - "trace_count": exactly Count events match
	// - "output_contains": output contains Text
	// - "final_state": one store row matches Where and has Expect
	Type string `yaml:"type"`

	// EventMatch is used by trace_contains and trace_count.
	EventMatch `yaml:",inline"`

	// Events is the expected order (used by trace_order).
	Events []EventMatch `yaml:"events,omitempty"`

	// Count is the expected number of matches (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Text is the expected output fragment (used by output_contains).
	Text string `yaml:"text,omitempty"`

	// Table, Where and Expect are used by final_state.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertOutputContains = "output_contains"
	AssertFinalState     = "final_state"
)

var traceKinds = map[string]bool{
	string(engine.TraceCreate):            true,
	string(engine.TraceUp):                true,
	string(engine.TraceDown):              true,
	string(engine.TraceClean):             true,
	string(engine.TraceDie):               true,
	string(engine.TraceDead):              true,
	string(engine.TraceError):             true,
	string(engine.TraceProcessUp):         true,
	string(engine.TraceProcessDown):       true,
	string(engine.TraceProcessContinue):   true,
	string(engine.TraceProcessTerminate):  true,
	string(engine.TraceProcessTerminated): true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and a relative Program is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Program != "" && !filepath.IsAbs(s.Program) {
		s.Program = filepath.Join(filepath.Dir(path), s.Program)
	}
	if s.Program != "" {
		if _, err := os.Stat(s.Program); err != nil {
			return nil, fmt.Errorf("invalid scenario: program not found: %s", s.Program)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch {
	case s.Program == "" && s.Source == "":
		return fmt.Errorf("one of program or source is required")
	case s.Program != "" && s.Source != "":
		return fmt.Errorf("program and source are mutually exclusive")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.EventMatch == (EventMatch{}) {
			return fmt.Errorf("assertions[%d]: trace_contains needs at least one event field", index)
		}
		return validateMatch(fmt.Sprintf("assertions[%d]", index), a.EventMatch)
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order needs at least two events", index)
		}
		for j, m := range a.Events {
			if err := validateMatch(fmt.Sprintf("assertions[%d].events[%d]", index, j), m); err != nil {
				return err
			}
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
		return validateMatch(fmt.Sprintf("assertions[%d]", index), a.EventMatch)
	case AssertOutputContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for output_contains", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validateMatch(where string, m EventMatch) error {
	if m.Kind != "" && !traceKinds[m.Kind] {
		return fmt.Errorf("%s: unknown event kind %q", where, m.Kind)
	}
	if m.Statement != nil && *m.Statement < -1 {
		return fmt.Errorf("%s: statement must be -1 or a statement index", where)
	}
	return nil
}
