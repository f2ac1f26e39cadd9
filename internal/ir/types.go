package ir

import "fmt"

// Program is a loaded program: every process and template in declaration
// order.
type Program struct {
	Name      string     `json:"name" cbor:"1,keyasint"`
	Processes []*Process `json:"processes" cbor:"2,keyasint"`
}

// Process is a process or template body.
type Process struct {
	Name       string      `json:"name" cbor:"1,keyasint"`
	Template   bool        `json:"template,omitempty" cbor:"2,keyasint,omitempty"`
	Statements []Statement `json:"statements" cbor:"3,keyasint"`
	Pos        Pos         `json:"pos,omitempty" cbor:"4,keyasint,omitempty"`
}

// Statement is one uncompiled statement. Object is empty for plain
// commands and holds the receiver path for method calls.
type Statement struct {
	Name   string   `json:"name,omitempty" cbor:"1,keyasint,omitempty"`
	Object []string `json:"obj,omitempty" cbor:"2,keyasint,omitempty"`
	Cmd    string   `json:"cmd" cbor:"3,keyasint"`
	Args   []Expr   `json:"args,omitempty" cbor:"4,keyasint,omitempty"`
	Pos    Pos      `json:"pos,omitempty" cbor:"5,keyasint,omitempty"`
}

// IsMethod reports whether the statement calls a method on an object.
func (s Statement) IsMethod() bool {
	return len(s.Object) > 0
}

// Pos is a source position.
type Pos struct {
	File   string `json:"file,omitempty" cbor:"1,keyasint,omitempty"`
	Line   int    `json:"line,omitempty" cbor:"2,keyasint,omitempty"`
	Column int    `json:"column,omitempty" cbor:"3,keyasint,omitempty"`
}

func (p Pos) String() string {
	if p.File == "" && p.Line == 0 {
		return "-"
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Template returns the process named name, or nil.
func (p *Program) Template(name string) *Process {
	for _, proc := range p.Processes {
		if proc.Name == name {
			return proc
		}
	}
	return nil
}

// ExprKind tags an argument expression.
type ExprKind uint8

const (
	ExprString ExprKind = iota + 1
	ExprList
	ExprMap
	ExprVar
)

func (k ExprKind) String() string {
	switch k {
	case ExprString:
		return "string"
	case ExprList:
		return "list"
	case ExprMap:
		return "map"
	case ExprVar:
		return "var"
	default:
		return fmt.Sprintf("expr(%d)", uint8(k))
	}
}

// Expr is an argument expression. Str holds the literal for ExprString and
// the dotted path for ExprVar.
type Expr struct {
	Kind    ExprKind    `json:"kind" cbor:"1,keyasint"`
	Str     string      `json:"str,omitempty" cbor:"2,keyasint,omitempty"`
	Elems   []Expr      `json:"elems,omitempty" cbor:"3,keyasint,omitempty"`
	Entries []ExprEntry `json:"entries,omitempty" cbor:"4,keyasint,omitempty"`
}

// ExprEntry is one key/value pair of a map expression.
type ExprEntry struct {
	Key   Expr `json:"key" cbor:"1,keyasint"`
	Value Expr `json:"value" cbor:"2,keyasint"`
}

// Str returns a string literal expression.
func Str(s string) Expr {
	return Expr{Kind: ExprString, Str: s}
}

// Var returns a variable reference expression for a dotted path.
func Var(path string) Expr {
	return Expr{Kind: ExprVar, Str: path}
}

// ListOf returns a list expression.
func ListOf(elems ...Expr) Expr {
	return Expr{Kind: ExprList, Elems: elems}
}

// MapOf returns a map expression.
func MapOf(entries ...ExprEntry) Expr {
	return Expr{Kind: ExprMap, Entries: entries}
}

// Constant reports whether e contains no variable references.
func (e Expr) Constant() bool {
	switch e.Kind {
	case ExprVar:
		return false
	case ExprList:
		for _, el := range e.Elems {
			if !el.Constant() {
				return false
			}
		}
	case ExprMap:
		for _, en := range e.Entries {
			if !en.Key.Constant() || !en.Value.Constant() {
				return false
			}
		}
	}
	return true
}

func (e Expr) String() string {
	switch e.Kind {
	case ExprString:
		return fmt.Sprintf("%q", e.Str)
	case ExprVar:
		return e.Str
	case ExprList:
		s := "{"
		for i, el := range e.Elems {
			if i > 0 {
				s += ", "
			}
			s += el.String()
		}
		return s + "}"
	case ExprMap:
		s := "["
		for i, en := range e.Entries {
			if i > 0 {
				s += ", "
			}
			s += en.Key.String() + ":" + en.Value.String()
		}
		return s + "]"
	default:
		return "<invalid>"
	}
}
