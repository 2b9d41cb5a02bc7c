// Package kernels ships the built-in indicator implementations. Every
// indicator provides both a batch kernel and a step kernel computing the
// same numbers: the step form mirrors the batch form's exact floating-point
// operation order so the two backends agree bit for bit.
package kernels

import (
	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// DefaultRegistry builds the standard indicator catalog.
func DefaultRegistry() (*registry.Registry, error) {
	return registry.NewBuilder().
		Register(smaIndicator()).
		Register(emaIndicator()).
		Register(rsiIndicator()).
		Register(atrIndicator()).
		Register(rollingIndicator("highest", "rolling_max", maxOf)).
		Register(rollingIndicator("lowest", "rolling_min", minOf)).
		Build()
}

func intParam(params map[string]registry.Value, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, errors.Errorf("missing parameter %q", name)
	}
	period := int(v.Num)
	if period < 1 {
		return 0, errors.Errorf("parameter %q must be positive, got %d", name, period)
	}
	return period, nil
}

// primaryInput picks the kernel's input series: the first evaluated
// expression argument when present, otherwise the named raw field.
func primaryInput(in registry.ComputeInput, field string) (series.Series, error) {
	if len(in.Inputs) > 0 {
		return in.Inputs[0], nil
	}
	s, ok := in.Fields[field]
	if !ok {
		return series.Series{}, errors.Errorf("no input series and no %q field", field)
	}
	return s, nil
}

// emptyLike returns an all-missing output shaped after the input.
func emptyLike(src series.Series) series.Series {
	values := make([]float64, src.Len())
	for i := range values {
		values[i] = series.Missing
	}
	return series.Series{
		Timestamps: src.Timestamps,
		Values:     values,
		Symbol:     src.Symbol,
		Timeframe:  src.Timeframe,
	}
}

func maxOf(window []float64) float64 {
	out := window[0]
	for _, v := range window[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(window []float64) float64 {
	out := window[0]
	for _, v := range window[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
