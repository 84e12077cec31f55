package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInflightBeginCheckEnd(t *testing.T) {
	r := NewInflightRegistry(true)
	require.False(t, r.CheckInflight("k"))

	g := NewTaskGet(NewWaiter(), "k")
	r.BeginInflight("k", g)
	require.True(t, r.CheckInflight("k"))

	require.True(t, r.EndInflight("k", g))
	require.False(t, r.CheckInflight("k"))
}

func TestInflightEndRejectsMismatchedTask(t *testing.T) {
	r := NewInflightRegistry(true)
	g1 := NewTaskGet(NewWaiter(), "k")
	g2 := NewTaskGet(NewWaiter(), "k")
	r.BeginInflight("k", g1)
	require.False(t, r.EndInflight("k", g2))
	// g1's entry is untouched by the mismatched end.
	require.True(t, r.CheckInflight("k"))
}

func TestInflightAddDependent(t *testing.T) {
	r := NewInflightRegistry(true)
	g := NewTaskGet(NewWaiter(), "k")
	r.BeginInflight("k", g)

	w, res := r.AddDependent("k")
	require.NotNil(t, w)
	require.NotNil(t, res)
	require.Len(t, g.Dependents, 1)
}

func TestInflightInvalidateCausesEndToFail(t *testing.T) {
	r := NewInflightRegistry(true)
	g := NewTaskGet(NewWaiter(), "k")
	r.BeginInflight("k", g)

	r.InvalidateInflight("k")
	require.False(t, r.CheckInflight("k"))
	// The original GET's eventual EndInflight call now reports false:
	// the cache must not be updated from its (possibly stale) result.
	require.False(t, r.EndInflight("k", g))
}

func TestInflightAddDependentMissingKeyIsNoOp(t *testing.T) {
	r := NewInflightRegistry(true)
	w, res := r.AddDependent("no-such-key")
	require.Nil(t, w)
	require.Nil(t, res)
}

func TestInflightDisabledIsNoOp(t *testing.T) {
	r := NewInflightRegistry(false)
	g := NewTaskGet(NewWaiter(), "k")
	r.BeginInflight("k", g)
	require.False(t, r.CheckInflight("k"))
	require.True(t, r.EndInflight("k", g))
}
