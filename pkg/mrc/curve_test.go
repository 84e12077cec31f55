package mrc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCurve(t *testing.T) *Curve {
	t.Helper()
	c, err := New(
		[]uint64{1, 2, 4, 8, 10},
		[]float64{0.9, 0.8, 0.7, 0.6, 0.4},
		DefaultOptions(),
	)
	require.NoError(t, err)
	return c
}

func TestCurveExactAnchor(t *testing.T) {
	c := newTestCurve(t)
	mr, err := c.Get(4)
	require.NoError(t, err)
	require.InDelta(t, 0.7, mr, 1e-9)
}

func TestCurveInterpolateMidpoint(t *testing.T) {
	c := newTestCurve(t)
	mr, err := c.Get(3) // midpoint between tick=2 (0.8) and tick=4 (0.7)
	require.NoError(t, err)
	require.InDelta(t, 0.75, mr, 1e-9)
}

func TestCurveBelowSmallestAnchor(t *testing.T) {
	c := newTestCurve(t)
	// below tick[0]=1, interpolate between (0,1) and (1, 0.9); querying 0
	// should reproduce the mr(0)=1 convention.
	mr, err := c.Get(0)
	require.NoError(t, err)
	require.InDelta(t, 1.0, mr, 1e-9)
}

func TestCurveConservativeOutOfRange(t *testing.T) {
	c := newTestCurve(t)
	mr, err := c.Get(100)
	require.NoError(t, err)
	require.InDelta(t, 0.4, mr, 1e-9)
}

func TestCurveOutOfRangeError(t *testing.T) {
	opts := DefaultOptions()
	opts.ConservativeOutOfRange = false
	c, err := New([]uint64{1, 2, 4, 8, 10}, []float64{0.9, 0.8, 0.7, 0.6, 0.4}, opts)
	require.NoError(t, err)
	_, err = c.Get(100)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestCurveMemoization(t *testing.T) {
	c := newTestCurve(t)
	mr1, err := c.Get(3)
	require.NoError(t, err)
	require.Len(t, c.cache, 1)
	mr2, err := c.Get(3)
	require.NoError(t, err)
	require.Equal(t, mr1, mr2)
	require.Len(t, c.cache, 1)
}

func TestCurveMonotonicityPreserved(t *testing.T) {
	c := newTestCurve(t)
	sizes := []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 100}
	var prev float64 = 2 // above any valid miss ratio
	for _, s := range sizes {
		mr, err := c.GetConst(s)
		require.NoError(t, err)
		require.GreaterOrEqual(t, prev+1e-9, mr)
		require.GreaterOrEqual(t, mr, 0.0)
		require.LessOrEqual(t, mr, 1.0)
		prev = mr
	}
}

func TestCurveRejectsNonIncreasingTicks(t *testing.T) {
	_, err := New([]uint64{2, 2}, []float64{0.5, 0.4}, DefaultOptions())
	require.Error(t, err)
}

func TestCurveRejectsIncreasingMissRatio(t *testing.T) {
	_, err := New([]uint64{1, 2}, []float64{0.4, 0.5}, DefaultOptions())
	require.Error(t, err)
}

func TestCurveRejectsOutOfBoundMissRatio(t *testing.T) {
	_, err := New([]uint64{1, 2}, []float64{1.5, 0.5}, DefaultOptions())
	require.Error(t, err)
}

func TestCurveRejectsEmpty(t *testing.T) {
	_, err := New(nil, nil, DefaultOptions())
	require.Error(t, err)
}
