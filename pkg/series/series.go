package series

import (
	"math"

	"github.com/pkg/errors"
)

// Scalar literals are represented as single-point series so every value
// flowing through the engine has the same shape. The sentinel symbol marks
// them for broadcasting instead of alignment.
const (
	ScalarSymbol    = "__scalar__"
	ScalarTimeframe = "1s"

	// 2024-01-01T00:00:00Z in unix milliseconds.
	ScalarTimestamp = int64(1704067200000)
)

// Missing is the sentinel for an unavailable value inside a series.
var Missing = math.NaN()

// IsMissing reports whether v is the unavailable sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Series is an immutable, timestamp-ordered sequence of float64 samples for
// one (symbol, timeframe) pair. Boolean series encode true/false as 1/0.
type Series struct {
	Timestamps []int64
	Values     []float64
	Symbol     string
	Timeframe  string
}

// New builds a series, validating that timestamps and values line up.
func New(timestamps []int64, values []float64, symbol, timeframe string) (Series, error) {
	if len(timestamps) != len(values) {
		return Series{}, errors.Errorf("series length mismatch: %d timestamps, %d values", len(timestamps), len(values))
	}
	return Series{Timestamps: timestamps, Values: values, Symbol: symbol, Timeframe: timeframe}, nil
}

// Scalar wraps a single value into the scalar-marked series form.
func Scalar(v float64) Series {
	return Series{
		Timestamps: []int64{ScalarTimestamp},
		Values:     []float64{v},
		Symbol:     ScalarSymbol,
		Timeframe:  ScalarTimeframe,
	}
}

// ScalarBool wraps a boolean literal, encoded 1/0.
func ScalarBool(v bool) Series {
	if v {
		return Scalar(1)
	}
	return Scalar(0)
}

// IsScalar reports whether the series represents a scalar literal.
func (s Series) IsScalar() bool { return s.Symbol == ScalarSymbol }

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Values) }

// Broadcast repeats a scalar series across the reference series' timestamps.
func Broadcast(scalar, reference Series) (Series, error) {
	if !scalar.IsScalar() {
		return Series{}, errors.New("attempted to broadcast a non-scalar series")
	}
	values := make([]float64, reference.Len())
	for i := range values {
		values[i] = scalar.Values[0]
	}
	return Series{
		Timestamps: reference.Timestamps,
		Values:     values,
		Symbol:     reference.Symbol,
		Timeframe:  reference.Timeframe,
	}, nil
}

// Truthy is the single truthiness coercion used by boolean operators in both
// execution backends. Missing values are falsy.
func Truthy(v float64) bool { return v != 0 && !math.IsNaN(v) }

// Map applies f to every value, keeping timestamps and identity.
func (s Series) Map(f func(float64) float64) Series {
	values := make([]float64, len(s.Values))
	for i, v := range s.Values {
		values[i] = f(v)
	}
	return Series{Timestamps: s.Timestamps, Values: values, Symbol: s.Symbol, Timeframe: s.Timeframe}
}

// Zip combines two equal-length series elementwise. The inputs must already
// be aligned; callers go through Align first.
func Zip(left, right Series, f func(l, r float64) float64) (Series, error) {
	if left.Len() != right.Len() {
		return Series{}, errors.Errorf("zip on unaligned series: %d vs %d points", left.Len(), right.Len())
	}
	values := make([]float64, left.Len())
	for i := range values {
		values[i] = f(left.Values[i], right.Values[i])
	}
	return Series{Timestamps: left.Timestamps, Values: values, Symbol: left.Symbol, Timeframe: left.Timeframe}, nil
}
