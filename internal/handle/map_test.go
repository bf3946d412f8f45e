package handle

import (
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/require"
)

func TestMapInsertLookupRemove(t *testing.T) {
	m := NewMap(2, Base)

	v, err := m.NextVhandle()
	require.NoError(t, err)
	require.Equal(t, Base, v)

	e := NewEntry(v, 0x80000001, nil)
	require.NoError(t, m.Insert(v, e))

	got, ok := m.Lookup(v)
	require.True(t, ok)
	require.Equal(t, e, got)
	got.Release()

	require.True(t, m.Remove(v))
	require.False(t, m.Remove(v), "remove must be idempotent")

	_, ok = m.Lookup(v)
	require.False(t, ok)
}

func TestMapInsertDuplicate(t *testing.T) {
	m := NewMap(2, Base)
	e := NewEntry(Base, 0x80000001, nil)

	require.NoError(t, m.Insert(Base, e))
	err := m.Insert(Base, e)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestMapInsertFull(t *testing.T) {
	m := NewMap(1, Base)

	require.NoError(t, m.Insert(Base, NewEntry(Base, 0x80000001, nil)))

	err := m.Insert(Base+1, NewEntry(Base+1, 0x80000002, nil))
	require.ErrorIs(t, err, ErrFull)
	require.Equal(t, 1, m.Count())
}

func TestMapNextVhandleMonotone(t *testing.T) {
	m := NewMap(8, Base)

	seen := make(map[tpm2.TPMHandle]bool)
	for i := 0; i < 4; i++ {
		v, err := m.NextVhandle()
		require.NoError(t, err)
		require.False(t, seen[v], "vhandle allocator must not repeat a value")
		seen[v] = true
	}
}

func TestMapNextVhandleExhausted(t *testing.T) {
	m := NewMap(8, transientTop)

	_, err := m.NextVhandle()
	require.NoError(t, err)

	_, err = m.NextVhandle()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestMapIsFull(t *testing.T) {
	m := NewMap(1, Base)
	require.False(t, m.IsFull())

	require.NoError(t, m.Insert(Base, NewEntry(Base, 0x80000001, nil)))
	require.True(t, m.IsFull())
}

func TestMapClearReleasesEntries(t *testing.T) {
	m := NewMap(4, Base)

	e1 := NewEntry(Base, 0x80000001, nil)
	e2 := NewEntry(Base+1, 0x80000002, nil)
	require.NoError(t, m.Insert(Base, e1))
	require.NoError(t, m.Insert(Base+1, e2))

	cleared := m.Clear()
	require.Len(t, cleared, 2)
	require.Equal(t, 0, m.Count())
}
