package dataset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/series"
)

func TestInMemoryRoundTrip(t *testing.T) {
	d := NewInMemory()
	part := Partition{Symbol: "BTC-USD", Timeframe: "1m", Source: "ohlcv"}

	s, err := series.New([]int64{1, 2}, []float64{10, 20}, "BTC-USD", "1m")
	require.NoError(t, err)
	require.NoError(t, d.Add(part, "close", s))

	fields, ok := d.Fields(part)
	require.True(t, ok)
	require.Equal(t, []float64{10, 20}, fields["close"].Values)

	_, ok = d.Fields(Partition{Symbol: "ETH-USD", Timeframe: "1m", Source: "ohlcv"})
	require.False(t, ok)
}

func TestInMemoryRejectsMismatchedSeries(t *testing.T) {
	d := NewInMemory()
	part := Partition{Symbol: "BTC-USD", Timeframe: "1m", Source: "ohlcv"}

	s, err := series.New([]int64{1}, []float64{1}, "ETH-USD", "1m")
	require.NoError(t, err)
	require.Error(t, d.Add(part, "close", s))

	s, err = series.New([]int64{1}, []float64{1}, "BTC-USD", "5m")
	require.NoError(t, err)
	require.Error(t, d.Add(part, "close", s))
}

func TestPartitionsAreSorted(t *testing.T) {
	d := NewInMemory()
	for _, part := range []Partition{
		{Symbol: "ETH-USD", Timeframe: "1m", Source: "ohlcv"},
		{Symbol: "BTC-USD", Timeframe: "5m", Source: "ohlcv"},
		{Symbol: "BTC-USD", Timeframe: "1m", Source: "ohlcv"},
	} {
		s, err := series.New([]int64{1}, []float64{1}, part.Symbol, part.Timeframe)
		require.NoError(t, err)
		require.NoError(t, d.Add(part, "close", s))
	}

	parts := d.Partitions()
	require.Equal(t, []Partition{
		{Symbol: "BTC-USD", Timeframe: "1m", Source: "ohlcv"},
		{Symbol: "BTC-USD", Timeframe: "5m", Source: "ohlcv"},
		{Symbol: "ETH-USD", Timeframe: "1m", Source: "ohlcv"},
	}, parts)
}

func TestFieldsReturnsCopy(t *testing.T) {
	d := NewInMemory()
	part := Partition{Symbol: "BTC-USD", Timeframe: "1m", Source: "ohlcv"}
	s, err := series.New([]int64{1}, []float64{1}, "BTC-USD", "1m")
	require.NoError(t, err)
	require.NoError(t, d.Add(part, "close", s))

	fields, _ := d.Fields(part)
	delete(fields, "close")
	again, _ := d.Fields(part)
	require.Contains(t, again, "close")
}
