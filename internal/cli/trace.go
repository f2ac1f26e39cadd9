package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // default: latest run
	Process  string
	Kind     string
	List     bool
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      store.Run           `json:"run"`
	Timeline []engine.TraceEvent `json:"timeline"`
	Stats    TraceStats          `json:"stats"`
}

// TraceStats holds summary statistics for the run. Counts cover the whole
// run regardless of filters.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Shown       int            `json:"shown"`
	Processes   int            `json:"processes"`
	ByKind      map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded transitions of a run",
		Long: `Show the transitions recorded for a run.

Every statement creation, up, down, clean, die and dead, every error and
every process-level transition is listed in order. Without --run the
most recent run is shown.

Examples:
  ncd trace --db ./runs.db
  ncd trace --db ./runs.db --list
  ncd trace --db ./runs.db --run 0192e0c1-... --process main --kind up
  ncd trace --db ./runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: trace.database)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default: latest)")
	cmd.Flags().StringVar(&opts.Process, "process", "", "only show transitions of this process")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only show transitions of this kind")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recorded runs instead")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db := opts.Database
	if db == "" {
		db = opts.resolvedConfig().Trace.Database
	}
	if db == "" {
		return commandError(formatter, ErrCodeDatabase, errors.New("no trace database: pass --db or set trace.database"))
	}
	// store.Open creates missing files; a typo should not look like an
	// empty database.
	if _, err := os.Stat(db); err != nil {
		return commandError(formatter, ErrCodeNotFound, fmt.Errorf("database not found: %s", db))
	}

	st, err := store.Open(db)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	defer st.Close()

	if opts.List {
		return listRuns(ctx, st, formatter)
	}

	var run store.Run
	if opts.RunID != "" {
		run, err = st.GetRun(ctx, opts.RunID)
	} else {
		run, err = st.LatestRun(ctx)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		msg := "no runs recorded"
		if opts.RunID != "" {
			msg = fmt.Sprintf("run not found: %s", opts.RunID)
		}
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}

	events, err := st.ReadTrace(ctx, run.ID, store.TraceFilter{
		Process: opts.Process,
		Kind:    engine.TraceKind(opts.Kind),
	})
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	counts, err := st.CountTransitions(ctx, run.ID)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}

	result := TraceResult{
		Run:      run,
		Timeline: events,
		Stats:    buildStats(counts, events),
	}
	if result.Timeline == nil {
		result.Timeline = []engine.TraceEvent{}
	}

	if formatter.Format == "json" {
		return writeJSON(formatter.Writer, CLIResponse{Status: "ok", Data: result, RunID: run.ID})
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func buildStats(counts map[engine.TraceKind]int, shown []engine.TraceEvent) TraceStats {
	stats := TraceStats{Shown: len(shown), ByKind: make(map[string]int, len(counts))}
	for kind, n := range counts {
		stats.ByKind[string(kind)] = n
		stats.TotalEvents += n
	}
	pids := make(map[int]bool)
	for _, ev := range shown {
		pids[ev.PID] = true
	}
	stats.Processes = len(pids)
	return stats
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	if runs == nil {
		runs = []store.Run{}
	}
	if formatter.Format == "json" {
		return writeJSON(formatter.Writer, CLIResponse{Status: "ok", Data: runs})
	}

	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-20s %s  %s\n", r.ID, r.Program, truncateID(r.ProgramHash), runStatus(r))
	}
	return nil
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	run := result.Run
	fmt.Fprintf(w, "Trace for Run: %s\n", run.ID)
	fmt.Fprintf(w, "Program: %s (%s)\n", run.Program, truncateID(run.ProgramHash))
	fmt.Fprintf(w, "Status: %s\n", runStatus(run))
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no transitions)")
	}
	for _, ev := range result.Timeline {
		fmt.Fprintf(w, "  %s\n", formatEvent(ev, verbose))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Transitions: %d (%d shown)\n", result.Stats.TotalEvents, result.Stats.Shown)
	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-19s %d\n", k+":", result.Stats.ByKind[k])
	}
}

// formatEvent renders one transition as "[seq] process[stmt] kind cmd".
// Process-level transitions have no statement index.
func formatEvent(ev engine.TraceEvent, verbose bool) string {
	loc := ev.Process
	if ev.Statement >= 0 {
		loc = fmt.Sprintf("%s[%d]", ev.Process, ev.Statement)
	}
	if verbose {
		loc = fmt.Sprintf("%s#%d", loc, ev.PID)
	}
	s := fmt.Sprintf("[%d] %s %s", ev.Seq, loc, ev.Kind)
	if ev.Cmd != "" {
		s += " " + ev.Cmd
	}
	if ev.Detail != "" {
		s += ": " + ev.Detail
	}
	return s
}

func runStatus(r store.Run) string {
	if !r.Finished {
		return "unfinished"
	}
	if r.ExitCode == 0 && r.Error == "" {
		return "ok"
	}
	return fmt.Sprintf("exit %d", r.ExitCode)
}

// truncateID shortens hashes and ids for display.
func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
