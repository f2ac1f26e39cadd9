package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/store"
)

// validIdentifier matches SQL identifiers. Table and column names cannot
// be bound as parameters, so they are checked against it instead.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []engine.TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", formatEvent(ev))
		}
	}
	return buf.String()
}

func formatEvent(ev engine.TraceEvent) string {
	where := ev.Process
	if ev.Statement >= 0 {
		where = fmt.Sprintf("%s[%d]", ev.Process, ev.Statement)
	}
	line := fmt.Sprintf("[%d] %-12s %s", ev.Seq, where, ev.Kind)
	if ev.Cmd != "" {
		line += " " + ev.Cmd
	}
	if ev.Detail != "" {
		line += ": " + ev.Detail
	}
	return line
}

// Matches reports whether ev satisfies every field m sets.
func (m EventMatch) Matches(ev engine.TraceEvent) bool {
	if m.Process != "" && m.Process != ev.Process {
		return false
	}
	if m.Statement != nil && *m.Statement != ev.Statement {
		return false
	}
	if m.Cmd != "" && m.Cmd != ev.Cmd {
		return false
	}
	if m.Kind != "" && m.Kind != string(ev.Kind) {
		return false
	}
	if m.Detail != "" && !strings.Contains(ev.Detail, m.Detail) {
		return false
	}
	return true
}

func (m EventMatch) String() string {
	var parts []string
	if m.Process != "" {
		parts = append(parts, "process="+m.Process)
	}
	if m.Statement != nil {
		parts = append(parts, fmt.Sprintf("statement=%d", *m.Statement))
	}
	if m.Cmd != "" {
		parts = append(parts, "cmd="+m.Cmd)
	}
	if m.Kind != "" {
		parts = append(parts, "kind="+m.Kind)
	}
	if m.Detail != "" {
		parts = append(parts, fmt.Sprintf("detail~%q", m.Detail))
	}
	if len(parts) == 0 {
		return "any event"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func assertTraceContains(trace []engine.TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if a.EventMatch.Matches(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.EventMatch.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the matchers hit events in order. Other
// events may come in between; each matcher searches only after the event
// the previous one matched.
func assertTraceOrder(trace []engine.TraceEvent, a Assertion) error {
	pos := 0
	for i, m := range a.Events {
		found := -1
		for j := pos; j < len(trace); j++ {
			if m.Matches(trace[j]) {
				found = j
				break
			}
		}
		if found < 0 {
			actual := fmt.Sprintf("no %s after seq %d", m, seqAt(trace, pos-1))
			if i == 0 {
				actual = fmt.Sprintf("no %s in trace", m)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   actual,
				Trace:    trace,
			}
		}
		pos = found + 1
	}
	return nil
}

func seqAt(trace []engine.TraceEvent, i int) int64 {
	if i < 0 || i >= len(trace) {
		return 0
	}
	return trace[i].Seq
}

func assertTraceCount(trace []engine.TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.EventMatch.Matches(ev) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.EventMatch),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertOutputContains(output string, a Assertion) error {
	if strings.Contains(output, a.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: fmt.Sprintf("output containing %q", a.Text),
		Actual:   fmt.Sprintf("%q", output),
	}
}

// assertFinalState queries one row of a store table and compares the
// expected columns. The run's own id is always part of the filter when
// the table has a run_id column, so scenarios never see other runs.
func assertFinalState(ctx context.Context, st *store.Store, runID string, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier)
	}

	where := make(map[string]any, len(a.Where)+1)
	for k, v := range a.Where {
		where[k] = v
	}
	switch a.Table {
	case "runs":
		where["id"] = runID
	case "transitions":
		where["run_id"] = runID
	}

	whereSQL, args, err := buildWhereClause(where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", a.Table, whereSQL)

	rows, err := st.Query(ctx, query, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhere(where)),
			Actual:   "row not found",
		}
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhere(where)),
			Actual:   "multiple rows matched",
		}
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := row[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q", key),
				Actual:   fmt.Sprintf("columns are %v", columns),
			}
		}
		if !columnEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Table, key, want),
				Actual:   fmt.Sprintf("%s.%s = %v", a.Table, key, got),
			}
		}
	}
	return nil
}

func buildWhereClause(where map[string]any) (string, []any, error) {
	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause", key)
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, where[key])
	}
	if len(clauses) == 0 {
		return "1 = 1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// columnEqual compares a YAML value with a SQLite column. SQLite hands
// back int64 for integers and booleans and []byte or string for text.
func columnEqual(want, got any) bool {
	if b, ok := got.([]byte); ok {
		got = string(b)
	}
	switch w := want.(type) {
	case int:
		g, ok := got.(int64)
		return ok && int64(w) == g
	case bool:
		switch g := got.(type) {
		case bool:
			return w == g
		case int64:
			return w == (g != 0)
		}
		return false
	case string:
		g, ok := got.(string)
		return ok && w == g
	case nil:
		return got == nil
	}
	return reflect.DeepEqual(want, got)
}

// EvaluateAssertions evaluates every assertion against res. st and runID
// serve final_state assertions; st may be nil when none are present.
func EvaluateAssertions(ctx context.Context, res *Result, assertions []Assertion, st *store.Store) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(res.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(res.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(res.Trace, a)
		case AssertOutputContains:
			err = assertOutputContains(res.Output, a)
		case AssertFinalState:
			if st == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a store", i)
			} else {
				err = assertFinalState(ctx, st, res.RunID, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
