package kernels

import (
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

func emaIndicator() registry.Indicator {
	return registry.Indicator{
		Schema: registry.Schema{
			Name: "ema",
			Params: []registry.ParamSpec{
				{Name: "period", Kind: registry.ParamInt, Required: true},
			},
			Semantics: registry.Semantics{
				RequiredFields: []string{"close"},
				LookbackParams: []string{"period"},
			},
		},
		Batch: emaBatch{},
		Step:  emaStep{},
	}
}

type emaBatch struct{}

// Compute seeds the average with the simple mean of the first period values
// and applies the standard recurrence from there.
func (emaBatch) Compute(in registry.ComputeInput) (series.Series, error) {
	period, err := intParam(in.Params, "period")
	if err != nil {
		return series.Series{}, err
	}
	src, err := primaryInput(in, "close")
	if err != nil {
		return series.Series{}, err
	}

	out := emptyLike(src)
	if src.Len() < period {
		return out, nil
	}

	alpha := 2.0 / (float64(period) + 1.0)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += src.Values[i]
	}
	ema := sum / float64(period)
	out.Values[period-1] = ema
	for i := period; i < src.Len(); i++ {
		ema = alpha*src.Values[i] + (1-alpha)*ema
		out.Values[i] = ema
	}
	return out, nil
}

type emaState struct {
	Period  int
	Count   int
	SeedSum float64
	Ema     float64
	Seeded  bool
}

func (s *emaState) Clone() registry.State {
	cp := *s
	return &cp
}

type emaStep struct{}

func (emaStep) NewState(params map[string]registry.Value) (registry.State, error) {
	period, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	return &emaState{Period: period}, nil
}

func (emaStep) Step(st registry.State, in registry.StepInput) (registry.StepOutput, error) {
	s := st.(*emaState)
	if !s.Seeded {
		s.SeedSum += in.Primary
		s.Count++
		if s.Count < s.Period {
			return registry.StepOutput{}, nil
		}
		s.Ema = s.SeedSum / float64(s.Period)
		s.Seeded = true
		return registry.StepOutput{Value: s.Ema, Ready: true}, nil
	}
	alpha := 2.0 / (float64(s.Period) + 1.0)
	s.Ema = alpha*in.Primary + (1-alpha)*s.Ema
	return registry.StepOutput{Value: s.Ema, Ready: true}, nil
}
