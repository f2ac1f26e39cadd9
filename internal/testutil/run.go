// Package testutil holds helpers that make interpreter runs reproducible.
package testutil

import (
	"io"
	"log/slog"
	"strconv"

	"github.com/roach88/ncd/internal/engine"
)

// DefaultRunID is stamped on every event of a deterministic run unless the
// caller picks another id.
const DefaultRunID = "test-run-default"

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StableLogger writes text logs to w without the time attribute, so two
// runs of the same program log byte-identical lines.
func StableLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// Deterministic returns interpreter options for a reproducible run: a fixed
// run id, a fresh clock starting at zero, a silent logger, out as the print
// target and every tracer in order. An empty runID means DefaultRunID.
//
// Options appended after these override them.
func Deterministic(runID string, out io.Writer, tracers ...engine.Tracer) []engine.Option {
	if runID == "" {
		runID = DefaultRunID
	}
	if out == nil {
		out = io.Discard
	}
	opts := []engine.Option{
		engine.WithRunID(runID),
		engine.WithClock(engine.NewClock()),
		engine.WithLogger(DiscardLogger()),
		engine.WithOutput(out),
	}
	for _, t := range tracers {
		opts = append(opts, engine.WithTracer(t))
	}
	return opts
}

// RunIDs returns a generator handing out "<prefix>-1", "<prefix>-2", ... in
// order, for tests that create several interpreters.
func RunIDs(prefix string, n int) *engine.FixedGenerator {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = prefix + "-" + strconv.Itoa(i+1)
	}
	return engine.NewFixedGenerator(ids...)
}
