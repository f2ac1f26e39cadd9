package harness

import (
	"github.com/roach88/ncd/internal/engine"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when the run finished as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	RunID    string `json:"run_id"`
	ExitCode int    `json:"exit_code"`

	// RunError is the error Run returned, empty on a clean exit.
	RunError string `json:"run_error,omitempty"`

	// Output is everything print and println wrote.
	Output string `json:"output"`

	// Trace is the transition log as read back from the store.
	Trace []engine.TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []engine.TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
