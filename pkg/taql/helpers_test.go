package taql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/dataset"
	"github.com/laakhay/ta-go/pkg/kernels"
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := kernels.DefaultRegistry()
	require.NoError(t, err)
	return reg
}

func num(v float64) *ir.Literal { return &ir.Literal{Value: ir.Number(v)} }

func closeRef() *ir.SourceRef { return &ir.SourceRef{Field: "close"} }

func smaCall(input ir.Node, period float64) *ir.Call {
	return &ir.Call{Name: "sma", Args: []ir.Node{input, num(period)}}
}

func compileExpr(t *testing.T, root ir.Node) *Expression {
	t.Helper()
	c := NewCompiler(testRegistry(t), nil, nil)
	expr, err := c.Compile(root)
	require.NoError(t, err)
	return expr
}

const testSymbol = "BTC-USD"

// testDataset builds a one-partition dataset with closes at 1m spacing.
// Highs ride 1 above the close, lows 1 below, opens equal the previous
// close.
func testDataset(t *testing.T, closes ...float64) (*dataset.InMemory, dataset.Partition) {
	t.Helper()
	part := dataset.Partition{Symbol: testSymbol, Timeframe: "1m", Source: DefaultSource}
	data := dataset.NewInMemory()

	n := len(closes)
	ts := make([]int64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	opens := make([]float64, n)
	for i, c := range closes {
		ts[i] = int64(i+1) * 60_000
		highs[i] = c + 1
		lows[i] = c - 1
		if i == 0 {
			opens[i] = c
		} else {
			opens[i] = closes[i-1]
		}
	}

	for field, values := range map[string][]float64{
		"close": closes,
		"high":  highs,
		"low":   lows,
		"open":  opens,
	} {
		s, err := series.New(ts, values, part.Symbol, part.Timeframe)
		require.NoError(t, err)
		require.NoError(t, data.Add(part, field, s))
	}
	return data, part
}

// ticksFor converts the same bar shape into indexed ticks for the
// incremental backend.
func ticksFor(closes ...float64) []Tick {
	ticks := make([]Tick, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		ticks[i] = Tick{
			Timestamp: int64(i+1) * 60_000,
			Index:     int64(i),
			Fields:    map[string]float64{"close": c, "high": c + 1, "low": c - 1, "open": open},
		}
	}
	return ticks
}
