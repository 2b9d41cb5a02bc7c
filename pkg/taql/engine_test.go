package taql

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(DefaultEngineOpts(), testRegistry(t), nil, nil)
	require.NoError(t, err)
	return eng
}

func TestEngineEndToEnd(t *testing.T) {
	eng := testEngine(t)
	expr, err := eng.Compile(&ir.BinaryOp{
		Op:    ir.OpSub,
		Left:  smaCall(closeRef(), 2),
		Right: smaCall(closeRef(), 2),
	})
	require.NoError(t, err)
	require.Len(t, expr.Plan().Graph.Nodes, 3)

	data, part := testDataset(t, 102, 106, 110)
	out, err := eng.Evaluate(context.Background(), expr, data, part)
	require.NoError(t, err)
	require.Equal(t, 0.0, out.Values[1])
	require.Equal(t, 0.0, out.Values[2])
}

func TestEngineSession(t *testing.T) {
	eng := testEngine(t)
	expr, err := eng.Compile(smaCall(closeRef(), 2))
	require.NoError(t, err)

	inc, err := eng.NewSession(expr)
	require.NoError(t, err)
	results := feed(t, inc, ticksFor(102, 106, 110))
	require.Equal(t, AvailabilityWarmingUp, results[0].Availability)
	require.Equal(t, 104.0, results[1].Value)
	require.Equal(t, 108.0, results[2].Value)
}

func TestEngineRequiresRegistry(t *testing.T) {
	_, err := New(DefaultEngineOpts(), nil, nil, nil)
	require.Error(t, err)
}

func TestEngineManifest(t *testing.T) {
	m := testEngine(t).Manifest()
	require.Len(t, m.Indicators, 6)

	names := map[string]IndicatorManifest{}
	for _, ind := range m.Indicators {
		names[ind.Name] = ind
	}
	sma := names["sma"]
	require.Equal(t, []ParamManifest{{Name: "period", Kind: "int", Required: true}}, sma.Params)
	require.True(t, sma.Incremental)
	require.Contains(t, names["highest"].Aliases, "rolling_max")

	buf, err := m.EncodeJSON()
	require.NoError(t, err)
	require.Contains(t, string(buf), `"name":"sma"`)
}

func TestEngineOptsRegisterFlags(t *testing.T) {
	opts := DefaultEngineOpts()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"-taql.align-how=outer",
		"-taql.align-fill=ffill",
		"-taql.step-missing-input=hold_previous",
	}))
	require.Equal(t, series.HowOuter, opts.Alignment.How)
	require.Equal(t, series.FillFfill, opts.Alignment.Fill)
	require.Equal(t, MissingInputHoldPrevious, opts.Step.MissingInput)
	require.Equal(t, ErrorPolicyRaise, opts.Step.OnError)
}

func TestLoadEngineOpts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
alignment:
  how: outer
  fill: ffill
step:
  missing_input: fail
  on_error: emit_error
`), 0o644))

	opts, err := LoadEngineOpts(path)
	require.NoError(t, err)
	require.Equal(t, series.HowOuter, opts.Alignment.How)
	require.Equal(t, series.FillFfill, opts.Alignment.Fill)
	require.Equal(t, MissingInputFail, opts.Step.MissingInput)
	require.Equal(t, ErrorPolicyEmitError, opts.Step.OnError)
}

func TestLoadEngineOptsRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alignment:\n  mode: outer\n"), 0o644))
	_, err := LoadEngineOpts(path)
	require.Error(t, err)
}
