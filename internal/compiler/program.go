package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ncd/internal/ir"
)

// LoadProgramString compiles CUE source into a program. name is used as the
// program name and as the file name in positions.
func LoadProgramString(name, src string) (*ir.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileProgram(name, v)
}

// LoadProgramFile loads a single .cue file.
func LoadProgramFile(path string) (*ir.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileProgram(programName(path), v)
}

// LoadProgramDir loads the CUE package in dir. All files are unified, so
// processes may be split across files.
func LoadProgramDir(dir string) (*ir.Program, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileProgram(filepath.Base(dir), v)
}

// LoadProgramPath loads whatever path names: a CUE package directory, a
// compiled program image, or a single .cue file.
func LoadProgramPath(path string) (*ir.Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	if info.IsDir() {
		return LoadProgramDir(path)
	}
	if filepath.Ext(path) == ".cue" {
		return LoadProgramFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	if !ir.IsImage(data) {
		return nil, fmt.Errorf("%s: neither a .cue file nor a program image", path)
	}
	return ir.UnmarshalProgram(data)
}

// CompileProgram extracts the process and template sections of v.
func CompileProgram(name string, v cue.Value) (*ir.Program, error) {
	prog := &ir.Program{Name: name}

	for _, section := range []struct {
		label    string
		template bool
	}{{"process", false}, {"template", true}} {
		secVal := v.LookupPath(cue.ParsePath(section.label))
		if !secVal.Exists() {
			continue
		}
		iter, err := secVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			proc, err := compileProcess(iter.Label(), section.template, iter.Value())
			if err != nil {
				return nil, err
			}
			prog.Processes = append(prog.Processes, proc)
		}
	}

	return prog, nil
}

func compileProcess(name string, template bool, v cue.Value) (*ir.Process, error) {
	proc := &ir.Process{Name: name, Template: template, Pos: irPos(v.Pos())}

	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   name,
			Message: "process body must be a list of statements",
			Pos:     v.Pos(),
		}
	}
	for i := 0; iter.Next(); i++ {
		st, err := compileStatement(fmt.Sprintf("%s[%d]", name, i), iter.Value())
		if err != nil {
			return nil, err
		}
		proc.Statements = append(proc.Statements, st)
	}
	return proc, nil
}

func compileStatement(field string, v cue.Value) (ir.Statement, error) {
	st := ir.Statement{Pos: irPos(v.Pos())}

	if v.IncompleteKind() != cue.StructKind {
		return st, &CompileError{Field: field, Message: "statement must be a struct", Pos: v.Pos()}
	}

	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		s, err := nameVal.String()
		if err != nil {
			return st, formatCUEError(err)
		}
		st.Name = s
	}

	if cmdVal := v.LookupPath(cue.ParsePath("cmd")); cmdVal.Exists() {
		s, err := cmdVal.String()
		if err != nil {
			return st, formatCUEError(err)
		}
		st.Cmd = s
	}

	if objVal := v.LookupPath(cue.ParsePath("obj")); objVal.Exists() {
		obj, err := compileObjectPath(field+".obj", objVal)
		if err != nil {
			return st, err
		}
		st.Object = obj
	}

	if argsVal := v.LookupPath(cue.ParsePath("args")); argsVal.Exists() {
		iter, err := argsVal.List()
		if err != nil {
			return st, &CompileError{Field: field + ".args", Message: "args must be a list", Pos: argsVal.Pos()}
		}
		for i := 0; iter.Next(); i++ {
			e, err := compileExpr(fmt.Sprintf("%s.args[%d]", field, i), iter.Value())
			if err != nil {
				return st, err
			}
			st.Args = append(st.Args, e)
		}
	}

	return st, nil
}

// compileObjectPath accepts "a.b" or ["a", "b"].
func compileObjectPath(field string, v cue.Value) ([]string, error) {
	if s, err := v.String(); err == nil {
		return SplitPath(s), nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "obj must be a string or a list of strings", Pos: v.Pos()}
	}
	var path []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "obj components must be strings", Pos: iter.Value().Pos()}
		}
		path = append(path, s)
	}
	return path, nil
}

func compileExpr(field string, v cue.Value) (ir.Expr, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return ir.Expr{}, formatCUEError(err)
		}
		return ir.Str(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return ir.Expr{}, formatCUEError(err)
		}
		return ir.Str(strconv.FormatInt(n, 10)), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return ir.Expr{}, formatCUEError(err)
		}
		return ir.Str(strconv.FormatBool(b)), nil
	case cue.ListKind:
		return compileListExpr(field, v)
	case cue.StructKind:
		return compileTaggedExpr(field, v)
	case cue.FloatKind, cue.NumberKind:
		return ir.Expr{}, &CompileError{Field: field, Message: "floats are not supported, use a string", Pos: v.Pos()}
	default:
		return ir.Expr{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported argument kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func compileListExpr(field string, v cue.Value) (ir.Expr, error) {
	iter, err := v.List()
	if err != nil {
		return ir.Expr{}, formatCUEError(err)
	}
	e := ir.Expr{Kind: ir.ExprList}
	for i := 0; iter.Next(); i++ {
		el, err := compileExpr(fmt.Sprintf("%s[%d]", field, i), iter.Value())
		if err != nil {
			return ir.Expr{}, err
		}
		e.Elems = append(e.Elems, el)
	}
	return e, nil
}

// compileTaggedExpr handles {var: ...}, {list: [...]}, {map: {...}} and
// {entries: [{key, value}]}.
func compileTaggedExpr(field string, v cue.Value) (ir.Expr, error) {
	if varVal := v.LookupPath(cue.ParsePath("var")); varVal.Exists() {
		s, err := varVal.String()
		if err != nil {
			return ir.Expr{}, &CompileError{Field: field + ".var", Message: "var must be a string", Pos: varVal.Pos()}
		}
		return ir.Var(s), nil
	}

	if listVal := v.LookupPath(cue.ParsePath("list")); listVal.Exists() {
		return compileListExpr(field+".list", listVal)
	}

	if mapVal := v.LookupPath(cue.ParsePath("map")); mapVal.Exists() {
		iter, err := mapVal.Fields()
		if err != nil {
			return ir.Expr{}, formatCUEError(err)
		}
		e := ir.Expr{Kind: ir.ExprMap}
		for iter.Next() {
			val, err := compileExpr(field+".map."+iter.Label(), iter.Value())
			if err != nil {
				return ir.Expr{}, err
			}
			e.Entries = append(e.Entries, ir.ExprEntry{Key: ir.Str(iter.Label()), Value: val})
		}
		return e, nil
	}

	if entriesVal := v.LookupPath(cue.ParsePath("entries")); entriesVal.Exists() {
		iter, err := entriesVal.List()
		if err != nil {
			return ir.Expr{}, &CompileError{Field: field + ".entries", Message: "entries must be a list", Pos: entriesVal.Pos()}
		}
		e := ir.Expr{Kind: ir.ExprMap}
		for i := 0; iter.Next(); i++ {
			entryField := fmt.Sprintf("%s.entries[%d]", field, i)
			keyVal := iter.Value().LookupPath(cue.ParsePath("key"))
			valVal := iter.Value().LookupPath(cue.ParsePath("value"))
			if !keyVal.Exists() || !valVal.Exists() {
				return ir.Expr{}, &CompileError{Field: entryField, Message: "entry needs key and value", Pos: iter.Value().Pos()}
			}
			k, err := compileExpr(entryField+".key", keyVal)
			if err != nil {
				return ir.Expr{}, err
			}
			val, err := compileExpr(entryField+".value", valVal)
			if err != nil {
				return ir.Expr{}, err
			}
			e.Entries = append(e.Entries, ir.ExprEntry{Key: k, Value: val})
		}
		return e, nil
	}

	return ir.Expr{}, &CompileError{
		Field:   field,
		Message: "struct argument must have one of var, list, map, entries",
		Pos:     v.Pos(),
	}
}

// SplitPath splits a dotted object path. Empty components are kept so that
// validation can report them.
func SplitPath(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func programName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func irPos(p token.Pos) ir.Pos {
	if !p.IsValid() {
		return ir.Pos{}
	}
	return ir.Pos{File: p.Filename(), Line: p.Line(), Column: p.Column()}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
