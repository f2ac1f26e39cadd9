package method

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/strtab"
)

func TestIndex_ResolveByTypeAndName(t *testing.T) {
	types := strtab.New()
	cat := types.MustIntern("cat")
	dog := types.MustIntern("dog")
	fish := types.MustIntern("fish")

	x := New[string]()
	require.NoError(t, x.Register(cat, "meow", "M1"))
	require.NoError(t, x.Register(dog, "meow", "M2"))

	meow, ok := x.LookupName("meow")
	require.True(t, ok)

	got, ok := x.Resolve(cat, meow)
	require.True(t, ok)
	assert.Equal(t, "M1", got)

	got, ok = x.Resolve(dog, meow)
	require.True(t, ok)
	assert.Equal(t, "M2", got)

	_, ok = x.Resolve(fish, meow)
	assert.False(t, ok)
}

func TestIndex_NamesShareOneID(t *testing.T) {
	x := New[int]()
	require.NoError(t, x.Register(1, "open", 10))
	require.NoError(t, x.Register(2, "open", 20))
	require.NoError(t, x.Register(2, "close", 21))

	open, err := x.NameID("open")
	require.NoError(t, err)
	closeID, ok := x.LookupName("close")
	require.True(t, ok)

	assert.NotEqual(t, open, closeID)
	assert.Equal(t, "open", x.Name(open))
	assert.Equal(t, 2, x.ChainLen(open))
	assert.Equal(t, 1, x.ChainLen(closeID))
}

func TestIndex_DuplicateRejected(t *testing.T) {
	x := New[int]()
	require.NoError(t, x.Register(1, "set", 1))

	err := x.Register(1, "set", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	id, _ := x.LookupName("set")
	got, ok := x.Resolve(1, id)
	require.True(t, ok)
	assert.Equal(t, 1, got, "failed registration must not replace the entry")
}

func TestIndex_UnknownName(t *testing.T) {
	x := New[int]()
	_, ok := x.Resolve(0, 99)
	assert.False(t, ok)

	// A name interned without registrations resolves to nothing.
	id, err := x.NameID("lonely")
	require.NoError(t, err)
	_, ok = x.Resolve(0, id)
	assert.False(t, ok)
	assert.Equal(t, 0, x.ChainLen(id))
}
