package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/roach88/ncd/internal/compiler"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/job"
	"github.com/roach88/ncd/internal/strtab"
	"github.com/roach88/ncd/internal/value"
)

// Interpreter runs one program.
//
// Every process, instance and module callback runs on the goroutine that
// calls Run (or Drain in tests), the reactor. Other goroutines hand work to
// the reactor with Post; timers go through After.
type Interpreter struct {
	prog    *ir.Program
	reg     *Registry
	strs    *strtab.Table
	tables  map[string]*compiler.Table[*Descriptor]
	jobs    *job.Queue
	events  *eventQueue
	clock   *Clock
	tracer  MultiTracer
	logger  *slog.Logger
	out     io.Writer
	limits  value.Limits
	builder *value.Builder

	runID    string
	runIDGen RunIDGenerator

	exitWhenIdle bool
	timers       int
	nextPID      int

	top       []*Process
	started   bool
	exiting   bool
	done      bool
	cancelled bool
	exitCode  int
	failure   error

	state map[string]any
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(in *Interpreter) {
		in.logger = l
	}
}

// WithTracer adds a tracer. May be given more than once.
func WithTracer(t Tracer) Option {
	return func(in *Interpreter) {
		in.tracer = append(in.tracer, t)
	}
}

// WithLimits sets the value constructor limits.
//
// Default: value.DefaultLimits.
func WithLimits(l value.Limits) Option {
	return func(in *Interpreter) {
		in.limits = l
	}
}

// WithOutput sets where print and println write. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) {
		in.out = w
	}
}

// WithRunID fixes the run id stamped on trace events.
func WithRunID(id string) Option {
	return func(in *Interpreter) {
		in.runID = id
	}
}

// WithRunIDGenerator sets how the run id is generated when WithRunID is not
// given. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(in *Interpreter) {
		in.runIDGen = g
	}
}

// WithClock sets the trace sequence clock.
func WithClock(c *Clock) Option {
	return func(in *Interpreter) {
		in.clock = c
	}
}

// WithExitWhenIdle makes Run request exit once no job, event or timer is
// pending. Useful for programs that only compute and print.
func WithExitWhenIdle(on bool) Option {
	return func(in *Interpreter) {
		in.exitWhenIdle = on
	}
}

// New compiles every process and template of prog against reg.
// Returns an UNKNOWN_COMMAND RuntimeError when a statement names a
// command reg does not have.
func New(prog *ir.Program, reg *Registry, opts ...Option) (*Interpreter, error) {
	in := &Interpreter{
		prog:     prog,
		reg:      reg,
		strs:     strtab.New(),
		tables:   make(map[string]*compiler.Table[*Descriptor], len(prog.Processes)),
		jobs:     job.New(),
		events:   newEventQueue(),
		clock:    NewClock(),
		logger:   slog.Default(),
		out:      os.Stdout,
		limits:   value.DefaultLimits,
		runIDGen: UUIDv7Generator{},
		state:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.runID == "" {
		in.runID = in.runIDGen.Generate()
	}
	in.builder = value.NewBuilder(in.limits)

	r := compiler.Resolver[*Descriptor]{
		Strings:    in.strs,
		MethodName: reg.MethodName,
		Command:    reg.Command,
		StateSize:  func(d *Descriptor) int { return d.StateSize },
	}
	for _, proc := range prog.Processes {
		t, err := compiler.Compile(proc, r)
		if err != nil {
			if errors.Is(err, compiler.ErrUnknownCommand) {
				return nil, &RuntimeError{
					Code:      ErrCodeUnknownCommand,
					Message:   "cannot compile",
					Process:   proc.Name,
					Statement: -1,
					Err:       err,
				}
			}
			return nil, err
		}
		in.tables[proc.Name] = t
	}
	return in, nil
}

// Start creates one process for every non-template process, in program
// order. Creation itself happens as jobs run.
func (in *Interpreter) Start() {
	if in.started {
		return
	}
	in.started = true
	h := topHandler{in: in}
	for _, proc := range in.prog.Processes {
		if proc.Template {
			continue
		}
		in.top = append(in.top, newProcess(in, in.tables[proc.Name], nil, h, false))
	}
	if len(in.top) == 0 {
		in.done = true
	}
	// The job queue is last in, first out.
	for _, p := range slices.Backward(in.top) {
		p.work.Schedule()
	}
}

// NewProcess starts a process from a template. special adds objects the
// template can name; _args and _argN are derived from args. The handler
// receives the process's state changes and may Continue it after
// ProcessDown.
func (in *Interpreter) NewProcess(template string, args []ir.Value, special map[string]Object, h ProcessHandler) (*Process, error) {
	t, ok := in.tables[template]
	if !ok || !t.Template {
		return nil, ArgError("unknown template %q", template)
	}
	sp := specialArgs(args)
	for k, v := range special {
		sp[k] = v
	}
	p := newProcess(in, t, sp, h, true)
	p.work.Schedule()
	return p, nil
}

// Drain runs scheduled jobs and posted events until both are empty. Run
// calls it in a loop; tests call it directly to step a program.
func (in *Interpreter) Drain() {
	for {
		if in.jobs.RunOne() {
			continue
		}
		fn, ok := in.events.TryDequeue()
		if !ok {
			return
		}
		fn()
	}
}

// Run starts the program if needed and drives it until every top-level
// process has terminated, either after RequestExit or because they all
// failed. Cancelling ctx requests exit with code 1 and Run returns ctx.Err()
// once shutdown completes.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (in *Interpreter) Run(ctx context.Context) error {
	in.Start()
	in.logger.Info("interpreter starting", "run_id", in.runID, "processes", len(in.top))

	ctxDone := ctx.Done()
	for {
		in.Drain()
		if in.done {
			break
		}

		if in.idle() {
			if in.exiting {
				in.logger.Error("interpreter stalled during shutdown", "processes", len(in.top))
				in.events.Close()
				return NewError(ErrCodeProcessFailed, "shutdown stalled with %d processes left", len(in.top))
			}
			if in.exitWhenIdle {
				in.RequestExit(in.exitCode)
				continue
			}
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			in.cancelled = true
			in.logger.Info("interpreter stopping: context cancelled")
			in.RequestExit(1)
		case <-in.events.Wait():
		}
	}
	in.events.Close()
	in.logger.Info("interpreter stopped", "exit_code", in.exitCode)

	if in.cancelled {
		return ctx.Err()
	}
	if in.failure != nil {
		re := &RuntimeError{Code: ErrCodeProcessFailed, Message: "process failed", Statement: -1, Err: in.failure}
		var cause *RuntimeError
		if errors.As(in.failure, &cause) {
			re.Process = cause.Process
		}
		return re
	}
	return nil
}

// idle reports whether nothing can happen without an outside event. Modules
// posting from their own goroutines are not counted.
func (in *Interpreter) idle() bool {
	return in.jobs.Empty() && in.events.Len() == 0 && in.timers == 0
}

// RequestExit sets the exit code and, the first time, terminates every
// top-level process.
func (in *Interpreter) RequestExit(code int) {
	in.exitCode = code
	if in.exiting {
		return
	}
	in.exiting = true
	in.logger.Info("exit requested", "code", code)
	if len(in.top) == 0 {
		in.done = true
		return
	}
	for _, p := range slices.Clone(in.top) {
		p.Terminate()
	}
}

// ExitCode returns the code set by RequestExit or a process failure.
func (in *Interpreter) ExitCode() int {
	return in.exitCode
}

// Processes returns the live top-level processes in declaration order.
func (in *Interpreter) Processes() []*Process {
	return slices.Clone(in.top)
}

// Done reports whether every top-level process has terminated.
func (in *Interpreter) Done() bool {
	return in.done
}

// RunID returns the id stamped on this run's trace events.
func (in *Interpreter) RunID() string {
	return in.runID
}

// Program returns the program being run.
func (in *Interpreter) Program() *ir.Program {
	return in.prog
}

// Output returns the writer print statements use.
func (in *Interpreter) Output() io.Writer {
	return in.out
}

// Logger returns the interpreter logger.
func (in *Interpreter) Logger() *slog.Logger {
	return in.logger
}

// Builder returns the shared value constructor.
func (in *Interpreter) Builder() *value.Builder {
	return in.builder
}

// NewJob creates a job on the interpreter's queue.
func (in *Interpreter) NewJob(name string, fn func()) *job.Job {
	return in.jobs.NewJob(name, fn)
}

// Post runs fn on the reactor. Safe from any goroutine. Returns false once
// the interpreter has stopped.
func (in *Interpreter) Post(fn func()) bool {
	return in.events.Enqueue(fn)
}

// After runs fn on the reactor once d has elapsed. The returned cancel
// function must be called on the reactor; it is a no-op once fn has run.
// A pending timer keeps an exit-when-idle interpreter alive.
func (in *Interpreter) After(d time.Duration, fn func()) (cancel func()) {
	tm := &timer{}
	in.timers++
	tm.t = time.AfterFunc(d, func() {
		in.Post(func() {
			if tm.stopped {
				return
			}
			tm.stopped = true
			in.timers--
			fn()
		})
	})
	return func() {
		if tm.stopped {
			return
		}
		tm.stopped = true
		tm.t.Stop()
		in.timers--
	}
}

type timer struct {
	t       *time.Timer
	stopped bool
}

// ModuleState returns per-interpreter state for a module kind, creating it
// with init on first use. The dependency registry lives here.
func (in *Interpreter) ModuleState(key string, init func() any) any {
	if s, ok := in.state[key]; ok {
		return s
	}
	s := init()
	in.state[key] = s
	return s
}

func (in *Interpreter) emit(ev TraceEvent) {
	ev.Seq = in.clock.Next()
	ev.RunID = in.runID
	if len(in.tracer) > 0 {
		in.tracer.Trace(ev)
	}
}

func (in *Interpreter) removeTop(p *Process) {
	if i := slices.Index(in.top, p); i >= 0 {
		in.top = slices.Delete(in.top, i, i+1)
	}
}

// topHandler is the parent of every top-level process.
type topHandler struct {
	in *Interpreter
}

func (h topHandler) ProcessUp(p *Process) {
	p.log.Debug("process up")
}

func (h topHandler) ProcessDown(p *Process) {
	p.log.Debug("process down")
}

func (h topHandler) ProcessTerminated(p *Process, err error) {
	in := h.in
	in.removeTop(p)
	if err != nil {
		if in.failure == nil {
			in.failure = err
		}
		in.exitCode = 1
		if !in.exiting {
			in.RequestExit(1)
		}
	}
	if len(in.top) == 0 {
		in.done = true
	}
}
