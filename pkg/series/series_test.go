package series

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func mk(t *testing.T, values ...float64) Series {
	t.Helper()
	ts := make([]int64, len(values))
	for i := range ts {
		ts[i] = int64(i+1) * 1000
	}
	s, err := New(ts, values, "BTC-USD", "1m")
	require.NoError(t, err)
	return s
}

func TestNewValidatesLengths(t *testing.T) {
	_, err := New([]int64{1, 2}, []float64{1}, "BTC-USD", "1m")
	require.Error(t, err)
}

func TestScalarShape(t *testing.T) {
	s := Scalar(42)
	require.True(t, s.IsScalar())
	require.Equal(t, 1, s.Len())
	require.Equal(t, ScalarTimestamp, s.Timestamps[0])
	require.Equal(t, 42.0, s.Values[0])

	require.Equal(t, 1.0, ScalarBool(true).Values[0])
	require.Equal(t, 0.0, ScalarBool(false).Values[0])
}

func TestBroadcast(t *testing.T) {
	ref := mk(t, 10, 20, 30)
	out, err := Broadcast(Scalar(5), ref)
	require.NoError(t, err)
	require.Equal(t, ref.Timestamps, out.Timestamps)
	require.Equal(t, []float64{5, 5, 5}, out.Values)
	require.Equal(t, "BTC-USD", out.Symbol)

	_, err = Broadcast(ref, ref)
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	require.True(t, Truthy(1))
	require.True(t, Truthy(-0.5))
	require.False(t, Truthy(0))
	require.False(t, Truthy(math.NaN()))
}

func TestZipRequiresEqualLengths(t *testing.T) {
	_, err := Zip(mk(t, 1, 2), mk(t, 1, 2, 3), func(l, r float64) float64 { return l + r })
	require.Error(t, err)
}

func TestMapKeepsIdentity(t *testing.T) {
	in := mk(t, 1, 2, 3)
	out := in.Map(func(v float64) float64 { return v * 2 })
	require.Equal(t, []float64{2, 4, 6}, out.Values)
	require.Equal(t, in.Timestamps, out.Timestamps)
	require.Equal(t, in.Symbol, out.Symbol)
}
