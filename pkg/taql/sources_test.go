package taql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalField(t *testing.T) {
	require.Equal(t, "close", CanonicalField("price"))
	require.Equal(t, "close", CanonicalField("c"))
	require.Equal(t, "high", CanonicalField("h"))
	require.Equal(t, "hlc3", CanonicalField("hlc3"))
}

func TestValidSourceField(t *testing.T) {
	require.True(t, ValidSourceField("ohlcv", "close"))
	require.True(t, ValidSourceField("trades", "vwap"))
	require.False(t, ValidSourceField("trades", "funding"))
	require.True(t, ValidSourceField("ohlcv", ""))

	// Unknown sources defer validation to the dataset.
	require.True(t, ValidSourceField("funding_rates", "rate"))
}

func TestSourceFieldNamesSorted(t *testing.T) {
	names := SourceFieldNames("ohlcv")
	require.Contains(t, names, "close")
	for i := 1; i < len(names); i++ {
		require.Less(t, names[i-1], names[i])
	}
	require.Nil(t, SourceFieldNames("nope"))
}
