package kernels

import (
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// rollingIndicator builds a windowed extremum indicator around a reducer.
func rollingIndicator(name, alias string, reduce func([]float64) float64) registry.Indicator {
	return registry.Indicator{
		Schema: registry.Schema{
			Name: name,
			Params: []registry.ParamSpec{
				{Name: "period", Kind: registry.ParamInt, Required: true},
			},
			Semantics: registry.Semantics{
				RequiredFields: []string{"close"},
				LookbackParams: []string{"period"},
			},
			Aliases: []string{alias},
		},
		Batch: rollingBatch{reduce: reduce},
		Step:  rollingStep{reduce: reduce},
	}
}

type rollingBatch struct {
	reduce func([]float64) float64
}

func (k rollingBatch) Compute(in registry.ComputeInput) (series.Series, error) {
	period, err := intParam(in.Params, "period")
	if err != nil {
		return series.Series{}, err
	}
	src, err := primaryInput(in, "close")
	if err != nil {
		return series.Series{}, err
	}

	out := emptyLike(src)
	for i := period - 1; i < src.Len(); i++ {
		out.Values[i] = k.reduce(src.Values[i-period+1 : i+1])
	}
	return out, nil
}

type rollingState struct {
	Period int
	Window []float64
}

func (s *rollingState) Clone() registry.State {
	cp := &rollingState{Period: s.Period}
	cp.Window = append([]float64(nil), s.Window...)
	return cp
}

type rollingStep struct {
	reduce func([]float64) float64
}

func (k rollingStep) NewState(params map[string]registry.Value) (registry.State, error) {
	period, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	return &rollingState{Period: period}, nil
}

func (k rollingStep) Step(st registry.State, in registry.StepInput) (registry.StepOutput, error) {
	s := st.(*rollingState)
	s.Window = append(s.Window, in.Primary)
	if len(s.Window) > s.Period {
		s.Window = s.Window[len(s.Window)-s.Period:]
	}
	if len(s.Window) < s.Period {
		return registry.StepOutput{}, nil
	}
	return registry.StepOutput{Value: k.reduce(s.Window), Ready: true}, nil
}
