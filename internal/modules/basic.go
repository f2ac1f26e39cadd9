package modules

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/ncd/internal/engine"
	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/value"
)

func basic() []*engine.Descriptor {
	return []*engine.Descriptor{
		{Type: "var", New: newVar},
		{Type: "var::set", New: newVarSet},
		{Type: "value", New: newValue},
		{Type: "list", New: newList},
		{Type: "concat", New: newConcat},
		{Type: "strcmp", New: newStrcmp},
		{Type: "print", New: newPrint(false)},
		{Type: "println", New: newPrint(true)},
		{Type: "log", New: newLog},
		{Type: "assert", New: newAssert},
		{Type: "exit", New: newExit},
		{Type: "sleep", New: newSleep},
	}
}

// holder exposes a value the way every value statement does: the value
// itself, its length and its elements.
type holder struct {
	dieNow
	v ir.Value
}

func (h *holder) Var(name string) (ir.Value, bool) {
	return engine.ValueVar(h.v, name)
}

func (h *holder) Obj(name string) (engine.Object, bool) {
	return engine.ValueObj(h.v, name)
}

// var(v) is a mutable variable.
type varMod struct {
	holder
}

func newVar(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 1); err != nil {
		return nil, err
	}
	return &varMod{holder{dieNow: upNow(i), v: args.Value(0)}}, nil
}

// var::set(v) replaces the variable's value when created.
func newVarSet(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 1); err != nil {
		return nil, err
	}
	v, err := receiver[*varMod](i)
	if err != nil {
		return nil, err
	}
	v.v = args.Value(0)
	return upNow(i), nil
}

func newValue(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 1); err != nil {
		return nil, err
	}
	return &holder{dieNow: upNow(i), v: args.Value(0)}, nil
}

// list(v...) collects its arguments through the value constructor.
func newList(i *engine.Instance, args engine.Args) (engine.Module, error) {
	b := i.Interp().Builder()
	l := b.NewList()
	vals := args.Values()
	for n := len(vals) - 1; n >= 0; n-- {
		if err := b.Prepend(&l, value.Of(vals[n])); err != nil {
			b.Discard(&l)
			return nil, engine.ArgError("list: %v", err)
		}
	}
	v, err := b.Complete(&l)
	if err != nil {
		return nil, engine.ArgError("list: %v", err)
	}
	return &holder{dieNow: upNow(i), v: v}, nil
}

// concat(s...) joins its string arguments. The bytes are assembled in the
// statement's scratch memory, which grows to the largest result seen.
func newConcat(i *engine.Instance, args engine.Args) (engine.Module, error) {
	total := 0
	for n := range args.Len() {
		s, err := args.String(n)
		if err != nil {
			return nil, err
		}
		total += len(s)
	}
	buf := i.Mem()
	if len(buf) < total {
		buf = i.GrowMem(total)
	}
	off := 0
	for _, v := range args.Values() {
		off += copy(buf[off:], string(v.(ir.String)))
	}
	return &holder{dieNow: upNow(i), v: ir.String(buf[:total])}, nil
}

func newStrcmp(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(2, 2); err != nil {
		return nil, err
	}
	return &holder{dieNow: upNow(i), v: ir.FromBool(ir.Equal(args.Value(0), args.Value(1)))}, nil
}

func newPrint(newline bool) func(*engine.Instance, engine.Args) (engine.Module, error) {
	return func(i *engine.Instance, args engine.Args) (engine.Module, error) {
		var sb strings.Builder
		for _, v := range args.Values() {
			sb.WriteString(ir.Text(v))
		}
		if newline {
			sb.WriteByte('\n')
		}
		if _, err := io.WriteString(i.Interp().Output(), sb.String()); err != nil {
			return nil, errorf("print: %v", err)
		}
		return upNow(i), nil
	}
}

// log(level, msg...) writes through the interpreter logger.
func newLog(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, -1); err != nil {
		return nil, err
	}
	name, err := args.String(0)
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, engine.ArgError("log: unknown level %q", name)
	}
	var sb strings.Builder
	for _, v := range args.Values()[1:] {
		sb.WriteString(ir.Text(v))
	}
	i.Log().Log(context.Background(), level, sb.String())
	return upNow(i), nil
}

func newAssert(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 1); err != nil {
		return nil, err
	}
	if !ir.Bool(args.Value(0)) {
		return nil, errorf("assertion failed")
	}
	return upNow(i), nil
}

// exit(code) asks the interpreter to shut down.
func newExit(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 1); err != nil {
		return nil, err
	}
	code, err := args.Int(0)
	if err != nil {
		return nil, err
	}
	i.Interp().RequestExit(int(code))
	return upNow(i), nil
}

// sleep(ms_up [, ms_down]) goes up after ms_up and, when asked to die,
// waits ms_down before reporting dead.
type sleepMod struct {
	inst   *engine.Instance
	down   time.Duration
	cancel func()
}

func newSleep(i *engine.Instance, args engine.Args) (engine.Module, error) {
	if err := args.Count(1, 2); err != nil {
		return nil, err
	}
	up, err := args.Int(0)
	if err != nil {
		return nil, err
	}
	var down int64
	if args.Len() == 2 {
		if down, err = args.Int(1); err != nil {
			return nil, err
		}
	}
	if up < 0 || down < 0 {
		return nil, engine.ArgError("sleep: negative duration")
	}
	s := &sleepMod{inst: i, down: time.Duration(down) * time.Millisecond}
	s.cancel = i.Interp().After(time.Duration(up)*time.Millisecond, func() {
		s.cancel = nil
		i.Up()
	})
	return s, nil
}

func (s *sleepMod) Die() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.down == 0 {
		s.inst.Dead()
		return
	}
	s.cancel = s.inst.Interp().After(s.down, func() {
		s.cancel = nil
		s.inst.Dead()
	})
}
