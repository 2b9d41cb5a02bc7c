package kernels

import (
	"math"

	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

func atrIndicator() registry.Indicator {
	return registry.Indicator{
		Schema: registry.Schema{
			Name: "atr",
			Params: []registry.ParamSpec{
				{Name: "period", Kind: registry.ParamInt, Required: true},
			},
			Semantics: registry.Semantics{
				RequiredFields: []string{"high", "low", "close"},
				LookbackParams: []string{"period"},
			},
		},
		Batch: atrBatch{},
		Step:  atrStep{},
	}
}

// trueRange is the largest of the bar's own range and the gaps from the
// previous close. The first bar has no previous close and uses high-low.
func trueRange(high, low, prevClose float64, hasPrev bool) float64 {
	tr := high - low
	if !hasPrev {
		return tr
	}
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

type atrBatch struct{}

func (atrBatch) Compute(in registry.ComputeInput) (series.Series, error) {
	period, err := intParam(in.Params, "period")
	if err != nil {
		return series.Series{}, err
	}
	high, ok := in.Fields["high"]
	if !ok {
		return series.Series{}, errors.New("atr requires the high field")
	}
	low, ok := in.Fields["low"]
	if !ok {
		return series.Series{}, errors.New("atr requires the low field")
	}
	closes, ok := in.Fields["close"]
	if !ok {
		return series.Series{}, errors.New("atr requires the close field")
	}
	if high.Len() != low.Len() || high.Len() != closes.Len() {
		return series.Series{}, errors.New("atr fields have mismatched lengths")
	}

	out := emptyLike(closes)
	if closes.Len() < period {
		return out, nil
	}

	sum := 0.0
	atr := 0.0
	p := float64(period)
	for i := 0; i < closes.Len(); i++ {
		tr := trueRange(high.Values[i], low.Values[i], prevCloseAt(closes, i), i > 0)
		if i < period {
			sum += tr
			if i == period-1 {
				atr = sum / p
				out.Values[i] = atr
			}
			continue
		}
		atr = (atr*(p-1) + tr) / p
		out.Values[i] = atr
	}
	return out, nil
}

func prevCloseAt(closes series.Series, i int) float64 {
	if i == 0 {
		return 0
	}
	return closes.Values[i-1]
}

type atrState struct {
	Period    int
	PrevClose float64
	HasPrev   bool
	Bars      int
	SumTr     float64
	Atr       float64
}

func (s *atrState) Clone() registry.State {
	cp := *s
	return &cp
}

type atrStep struct{}

func (atrStep) NewState(params map[string]registry.Value) (registry.State, error) {
	period, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	return &atrState{Period: period}, nil
}

func (atrStep) Step(st registry.State, in registry.StepInput) (registry.StepOutput, error) {
	s := st.(*atrState)
	high, ok := in.Fields["high"]
	if !ok {
		return registry.StepOutput{}, errors.New("atr requires the high field")
	}
	low, ok := in.Fields["low"]
	if !ok {
		return registry.StepOutput{}, errors.New("atr requires the low field")
	}
	closeV, ok := in.Fields["close"]
	if !ok {
		return registry.StepOutput{}, errors.New("atr requires the close field")
	}

	tr := trueRange(high, low, s.PrevClose, s.HasPrev)
	s.PrevClose = closeV
	s.HasPrev = true
	s.Bars++

	p := float64(s.Period)
	if s.Bars < s.Period {
		s.SumTr += tr
		return registry.StepOutput{}, nil
	}
	if s.Bars == s.Period {
		s.SumTr += tr
		s.Atr = s.SumTr / p
		return registry.StepOutput{Value: s.Atr, Ready: true}, nil
	}
	s.Atr = (s.Atr*(p-1) + tr) / p
	return registry.StepOutput{Value: s.Atr, Ready: true}, nil
}
