package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncd/internal/ir"
)

func TestBuilder_PrependReverses(t *testing.T) {
	b := NewBuilder(DefaultLimits)
	l := b.NewList()
	require.NoError(t, b.Prepend(&l, Of(ir.String("a"))))
	require.NoError(t, b.Prepend(&l, Of(ir.String("b"))))

	v, err := b.Complete(&l)
	require.NoError(t, err)
	assert.Equal(t, ir.List{ir.String("b"), ir.String("a")}, v)
	assert.True(t, l.Complete())
}

func TestBuilder_NestedIncompleteIsForced(t *testing.T) {
	b := NewBuilder(DefaultLimits)
	outer := b.NewList()
	inner := b.NewMap()
	require.NoError(t, b.Insert(&inner, Of(ir.String("k")), Of(ir.String("v"))))

	require.NoError(t, b.Prepend(&outer, inner))

	// inner was materialized by Prepend and cannot be extended anymore.
	err := b.Insert(&inner, Of(ir.String("k2")), Of(ir.String("v2")))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrLimit))

	v, err := b.Complete(&outer)
	require.NoError(t, err)
	assert.Equal(t, ir.List{ir.MustMap(ir.E(ir.String("k"), ir.String("v")))}, v)
}

func TestBuilder_DuplicateKey(t *testing.T) {
	b := NewBuilder(DefaultLimits)
	m := b.NewMap()
	require.NoError(t, b.Insert(&m, Of(ir.String("k")), Of(ir.String("1"))))

	err := b.Insert(&m, Of(ir.String("k")), Of(ir.String("2")))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrDuplicateKey))

	// The map is still usable and holds the first entry only.
	v, err := b.Complete(&m)
	require.NoError(t, err)
	assert.Equal(t, 1, ir.Length(v))
}

func TestBuilder_Limits(t *testing.T) {
	t.Run("elements", func(t *testing.T) {
		b := NewBuilder(Limits{MaxElements: 2})
		l := b.NewList()
		require.NoError(t, b.Prepend(&l, Of(ir.String("1"))))
		require.NoError(t, b.Prepend(&l, Of(ir.String("2"))))
		err := b.Prepend(&l, Of(ir.String("3")))
		assert.True(t, IsKind(err, ErrLimit))
		assert.Equal(t, 2, l.Len())
	})

	t.Run("depth", func(t *testing.T) {
		b := NewBuilder(Limits{MaxDepth: 2})
		l := b.NewList()
		require.NoError(t, b.Prepend(&l, Of(ir.List{ir.String("x")})))
		err := b.Prepend(&l, Of(ir.List{ir.List{ir.String("x")}}))
		assert.True(t, IsKind(err, ErrLimit))
	})

	t.Run("pool", func(t *testing.T) {
		b := NewBuilder(Limits{MaxPool: 1})
		l := b.NewList()
		require.NoError(t, b.Prepend(&l, Of(ir.String("1"))))
		err := b.Prepend(&l, Of(ir.String("2")))
		assert.True(t, IsKind(err, ErrAlloc))
	})
}

func TestBuilder_FailureKeepsCompletedValues(t *testing.T) {
	b := NewBuilder(Limits{MaxPool: 2})
	done := b.NewList()
	require.NoError(t, b.Prepend(&done, Of(ir.String("kept"))))
	kept, err := b.Complete(&done)
	require.NoError(t, err)

	l := b.NewList()
	require.NoError(t, b.Prepend(&l, Of(ir.String("1"))))
	require.NoError(t, b.Prepend(&l, Of(ir.String("2"))))
	assert.True(t, IsKind(b.Prepend(&l, Of(ir.String("3"))), ErrAlloc))
	b.Discard(&l)

	assert.Equal(t, ir.List{ir.String("kept")}, kept)
	assert.Equal(t, 0, b.PoolLen(), "pool resets once nothing is open")
}

func TestBuilder_FailedCompleteAbandonsItem(t *testing.T) {
	b := NewBuilder(DefaultLimits)
	m := b.NewMap()
	require.NoError(t, b.Insert(&m, Of(ir.String("k")), Of(ir.String("1"))))
	// Link a second "k" behind Insert's back so only Complete sees it.
	idx, err := b.alloc(elem{key: ir.String("k"), val: ir.String("2"), next: m.first})
	require.NoError(t, err)
	m.first = idx
	m.count++

	_, err = b.Complete(&m)
	assert.True(t, IsKind(err, ErrDuplicateKey))
	assert.Equal(t, 0, b.open)
	assert.Equal(t, 0, b.PoolLen(), "pool resets once nothing is open")
}

func TestBuilder_CompleteTwiceFails(t *testing.T) {
	b := NewBuilder(DefaultLimits)
	l := b.NewList()
	stale := l
	_, err := b.Complete(&l)
	require.NoError(t, err)

	_, err = b.Complete(&stale)
	assert.True(t, IsKind(err, ErrLimit))
}
