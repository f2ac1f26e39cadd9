package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/ncd/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrEmptyProcess     = "E201" // process or template has no statements
	ErrDuplicateProcess = "E202" // name used twice across process and template
	ErrMissingCmd       = "E203" // statement without cmd
	ErrEmptyObjPath     = "E204" // obj path has an empty component
	ErrNoProcess        = "E205" // program has no non-template process
	ErrUnknownTemplate  = "E206" // literal template name not defined
	ErrInvalidName      = "E207" // statement name is not an identifier
)

// ValidationError represents a program validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// templateCommands take a template name as their first argument.
var templateCommands = map[string]bool{
	"spawn": true,
	"call":  true,
	"do":    true,
	"try":   true,
}

// namePattern matches statement names. Dots are path separators and may not
// appear inside a name.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a loaded program. Returns all errors found (does not
// fail-fast).
func Validate(p *ir.Program) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool)
	hasProcess := false
	for _, proc := range p.Processes {
		if !proc.Template {
			hasProcess = true
		}

		if seen[proc.Name] {
			errs = append(errs, ValidationError{
				Field:   proc.Name,
				Message: fmt.Sprintf("duplicate process or template name: %q", proc.Name),
				Code:    ErrDuplicateProcess,
				Line:    proc.Pos.Line,
			})
		}
		seen[proc.Name] = true

		if len(proc.Statements) == 0 {
			errs = append(errs, ValidationError{
				Field:   proc.Name,
				Message: "process has no statements",
				Code:    ErrEmptyProcess,
				Line:    proc.Pos.Line,
			})
		}
	}

	if !hasProcess {
		errs = append(errs, ValidationError{
			Field:   "process",
			Message: "program defines no process to start",
			Code:    ErrNoProcess,
		})
	}

	for _, proc := range p.Processes {
		for i, st := range proc.Statements {
			errs = append(errs, validateStatement(p, fmt.Sprintf("%s[%d]", proc.Name, i), st)...)
		}
	}

	return errs
}

func validateStatement(p *ir.Program, field string, st ir.Statement) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(st.Cmd) == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".cmd",
			Message: "statement has no cmd",
			Code:    ErrMissingCmd,
			Line:    st.Pos.Line,
		})
	}

	if st.Name != "" && !namePattern.MatchString(st.Name) {
		errs = append(errs, ValidationError{
			Field:   field + ".name",
			Message: fmt.Sprintf("invalid statement name %q", st.Name),
			Code:    ErrInvalidName,
			Line:    st.Pos.Line,
		})
	}

	for j, comp := range st.Object {
		if comp == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.obj[%d]", field, j),
				Message: fmt.Sprintf("empty component in object path %q", strings.Join(st.Object, ".")),
				Code:    ErrEmptyObjPath,
				Line:    st.Pos.Line,
			})
		}
	}

	if !st.IsMethod() && templateCommands[st.Cmd] && len(st.Args) > 0 {
		errs = append(errs, checkTemplateRef(p, field+".args[0]", st.Args[0], st.Pos.Line)...)
		// do takes an optional interrupt template as its second argument.
		if st.Cmd == "do" && len(st.Args) > 1 {
			errs = append(errs, checkTemplateRef(p, field+".args[1]", st.Args[1], st.Pos.Line)...)
		}
	}

	return errs
}

func checkTemplateRef(p *ir.Program, field string, e ir.Expr, line int) []ValidationError {
	if e.Kind != ir.ExprString {
		return nil
	}
	if t := p.Template(e.Str); t != nil && t.Template {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Message: fmt.Sprintf("unknown template %q", e.Str),
		Code:    ErrUnknownTemplate,
		Line:    line,
	}}
}
