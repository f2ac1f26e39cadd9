package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/strtab"
)

// ErrUnknownCommand is returned by Compile for a plain command with no
// registered module.
var ErrUnknownCommand = errors.New("unknown command")

// NoStatement is returned by FindStatement when no statement matches.
const NoStatement = -1

// scratchAlign is the alignment of every statement's scratch region.
const scratchAlign = 8

// Resolver supplies what Compile needs from the module registry.
type Resolver[M any] struct {
	Strings *strtab.Table

	// MethodName interns a method name in the method namespace.
	MethodName func(name string) (int, error)

	// Command resolves a plain command name.
	Command func(name string) (M, bool)

	// StateSize returns the declared scratch size of a module. Optional.
	StateSize func(M) int
}

// Statement is one compiled statement.
type Statement[M any] struct {
	Index    int
	NameID   int // strtab.IDEmpty when unnamed
	CmdID    int
	MethodID int   // method-name id, or -1 for plain commands
	Object   []int // receiver path as string ids
	Args     []ir.Expr
	Module   M // resolved for plain commands only
	Source   ir.Statement

	allocSize int
}

// IsMethod reports whether the statement resolves its module per call.
func (s *Statement[M]) IsMethod() bool {
	return s.MethodID >= 0
}

// Table is a compiled process or template. It is read-only after Compile
// except for scratch sizes and the reuse slot, which are not synchronized.
type Table[M any] struct {
	Name     string
	Template bool

	stmts  []Statement[M]
	byName map[int][]int // name id -> ascending statement indices

	layout      []int
	layoutSize  int
	layoutValid bool

	reuse []byte
}

// Compile builds a table from a loaded process.
func Compile[M any](proc *ir.Process, r Resolver[M]) (*Table[M], error) {
	t := &Table[M]{
		Name:     proc.Name,
		Template: proc.Template,
		stmts:    make([]Statement[M], len(proc.Statements)),
		byName:   make(map[int][]int),
	}

	for i, src := range proc.Statements {
		st := Statement[M]{Index: i, NameID: strtab.IDEmpty, MethodID: -1, Args: src.Args, Source: src}

		if src.Name != "" {
			id, err := r.Strings.Intern(src.Name)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: name: %w", proc.Name, i, err)
			}
			st.NameID = id
			t.byName[id] = append(t.byName[id], i)
		}

		cmdID, err := r.Strings.Intern(src.Cmd)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: cmd: %w", proc.Name, i, err)
		}
		st.CmdID = cmdID

		if src.IsMethod() {
			st.Object = make([]int, len(src.Object))
			for j, comp := range src.Object {
				id, err := r.Strings.Intern(comp)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: obj: %w", proc.Name, i, err)
				}
				st.Object[j] = id
			}
			mid, err := r.MethodName(src.Cmd)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: method: %w", proc.Name, i, err)
			}
			st.MethodID = mid
		} else {
			m, ok := r.Command(src.Cmd)
			if !ok {
				return nil, fmt.Errorf("%s[%d] (%s): %q: %w", proc.Name, i, src.Pos, src.Cmd, ErrUnknownCommand)
			}
			st.Module = m
			if r.StateSize != nil {
				st.allocSize = r.StateSize(m)
			}
		}

		t.stmts[i] = st
	}

	return t, nil
}

// Len returns the number of statements.
func (t *Table[M]) Len() int {
	return len(t.stmts)
}

// Statement returns statement i.
func (t *Table[M]) Statement(i int) *Statement[M] {
	return &t.stmts[i]
}

// FindStatement returns the highest index strictly below from whose
// statement is named nameID, or NoStatement.
func (t *Table[M]) FindStatement(from, nameID int) int {
	idx := t.byName[nameID]
	// First position whose index is >= from; the one before it is the answer.
	k := sort.SearchInts(idx, from)
	if k == 0 {
		return NoStatement
	}
	return idx[k-1]
}

// AllocSize returns the current scratch size of statement i.
func (t *Table[M]) AllocSize(i int) int {
	return t.stmts[i].allocSize
}

// BumpAllocSize grows statement i's scratch size to at least size. Growing
// invalidates the cached layout; shrinking is ignored.
func (t *Table[M]) BumpAllocSize(i, size int) {
	if size <= t.stmts[i].allocSize {
		return
	}
	t.stmts[i].allocSize = size
	t.layoutValid = false
}

// Layout returns the scratch offset of every statement and the total size.
// The result is cached until the next BumpAllocSize.
func (t *Table[M]) Layout() (offsets []int, total int) {
	if t.layoutValid {
		return t.layout, t.layoutSize
	}
	offsets = make([]int, len(t.stmts))
	for i := range t.stmts {
		offsets[i] = total
		total += alignUp(t.stmts[i].allocSize, scratchAlign)
	}
	t.layout, t.layoutSize, t.layoutValid = offsets, total, true
	return offsets, total
}

// TakeArena returns a zeroed scratch arena sized for the current layout,
// reusing the cached one when it still fits.
func (t *Table[M]) TakeArena() []byte {
	_, total := t.Layout()
	if t.reuse != nil && len(t.reuse) == total {
		a := t.reuse
		t.reuse = nil
		return a
	}
	return make([]byte, total)
}

// PutArena offers a no longer used arena back to the reuse slot. Only one
// arena is cached; arenas from an older layout are dropped.
func (t *Table[M]) PutArena(a []byte) {
	_, total := t.Layout()
	if t.reuse != nil || len(a) != total {
		return
	}
	clear(a)
	t.reuse = a
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
