package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/ir"
	"github.com/roach88/ncd/internal/method"
	"github.com/roach88/ncd/internal/strtab"
)

type fakeModule struct {
	name string
	size int
}

func testResolver(strs *strtab.Table) Resolver[*fakeModule] {
	mods := map[string]*fakeModule{
		"var":     {name: "var", size: 12},
		"println": {name: "println"},
		"value":   {name: "value", size: 8},
	}
	methods := method.New[*fakeModule]()
	return Resolver[*fakeModule]{
		Strings:    strs,
		MethodName: methods.NameID,
		Command: func(name string) (*fakeModule, bool) {
			m, ok := mods[name]
			return m, ok
		},
		StateSize: func(m *fakeModule) int { return m.size },
	}
}

func shadowProcess() *ir.Process {
	return &ir.Process{
		Name: "main",
		Statements: []ir.Statement{
			{Name: "x", Cmd: "var"},             // 0
			{Name: "y", Cmd: "value"},           // 1
			{Name: "x", Cmd: "var"},             // 2
			{Cmd: "println"},                    // 3
			{Object: []string{"x"}, Cmd: "set"}, // 4
			{Name: "x", Cmd: "value"},           // 5
		},
	}
}

func TestCompileResolvesModules(t *testing.T) {
	strs := strtab.New()
	tbl, err := Compile(shadowProcess(), testResolver(strs))
	require.NoError(t, err)
	require.Equal(t, 6, tbl.Len())

	st := tbl.Statement(0)
	assert.False(t, st.IsMethod())
	assert.Equal(t, "var", st.Module.name)
	assert.Equal(t, "x", strs.Value(st.NameID))

	set := tbl.Statement(4)
	assert.True(t, set.IsMethod())
	assert.Nil(t, set.Module)
	assert.Equal(t, []int{strs.MustIntern("x")}, set.Object)

	assert.Equal(t, strtab.IDEmpty, tbl.Statement(3).NameID)
}

func TestCompileUnknownCommand(t *testing.T) {
	proc := &ir.Process{Name: "main", Statements: []ir.Statement{{Cmd: "nope"}}}
	_, err := Compile(proc, testResolver(strtab.New()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestFindStatementNearestPreceding(t *testing.T) {
	strs := strtab.New()
	tbl, err := Compile(shadowProcess(), testResolver(strs))
	require.NoError(t, err)
	x := strs.MustIntern("x")
	y := strs.MustIntern("y")

	tests := []struct {
		from int
		name int
		want int
	}{
		{from: 0, name: x, want: NoStatement},
		{from: 1, name: x, want: 0},
		{from: 2, name: x, want: 0},
		{from: 3, name: x, want: 2},
		{from: 5, name: x, want: 2},
		{from: 6, name: x, want: 5},
		{from: 6, name: y, want: 1},
		{from: 1, name: y, want: NoStatement},
		{from: 6, name: strs.MustIntern("zzz"), want: NoStatement},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tbl.FindStatement(tt.from, tt.name), "from=%d name=%s", tt.from, strs.Value(tt.name))
	}
}

func TestLayoutAlignedAndCached(t *testing.T) {
	tbl, err := Compile(shadowProcess(), testResolver(strtab.New()))
	require.NoError(t, err)

	offsets, total := tbl.Layout()
	// sizes 12, 8, 12, 0, 0, 8 -> aligned 16, 8, 16, 0, 0, 8
	assert.Equal(t, []int{0, 16, 24, 40, 40, 40}, offsets)
	assert.Equal(t, 48, total)

	again, _ := tbl.Layout()
	assert.Same(t, &offsets[0], &again[0], "layout is cached")

	tbl.BumpAllocSize(3, 5)
	tbl.BumpAllocSize(0, 4) // shrinking is ignored
	offsets, total = tbl.Layout()
	assert.Equal(t, []int{0, 16, 24, 40, 48, 48}, offsets)
	assert.Equal(t, 56, total)
	assert.Equal(t, 12, tbl.AllocSize(0))
}

func TestArenaReuseSlot(t *testing.T) {
	tbl, err := Compile(shadowProcess(), testResolver(strtab.New()))
	require.NoError(t, err)

	a := tbl.TakeArena()
	require.Len(t, a, 48)
	a[0] = 7
	tbl.PutArena(a)

	b := tbl.TakeArena()
	assert.Same(t, &a[0], &b[0], "cached arena is reused")
	assert.Equal(t, byte(0), b[0], "reused arena is zeroed")

	c := tbl.TakeArena()
	assert.NotSame(t, &b[0], &c[0], "slot holds a single arena")

	tbl.BumpAllocSize(3, 100)
	tbl.PutArena(c) // stale layout, dropped
	d := tbl.TakeArena()
	assert.Len(t, d, 48+104)
}
