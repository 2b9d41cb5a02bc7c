package kernels

import (
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

func smaIndicator() registry.Indicator {
	return registry.Indicator{
		Schema: registry.Schema{
			Name: "sma",
			Params: []registry.ParamSpec{
				{Name: "period", Kind: registry.ParamInt, Required: true},
			},
			Semantics: registry.Semantics{
				RequiredFields: []string{"close"},
				LookbackParams: []string{"period"},
			},
		},
		Batch: smaBatch{},
		Step:  smaStep{},
	}
}

type smaBatch struct{}

// Compute recomputes the window sum at every position rather than sliding a
// running sum, so the step kernel can reproduce identical floating-point
// results.
func (smaBatch) Compute(in registry.ComputeInput) (series.Series, error) {
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
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += src.Values[j]
		}
		out.Values[i] = sum / float64(period)
	}
	return out, nil
}

type smaState struct {
	Period int
	Window []float64
}

func (s *smaState) Clone() registry.State {
	cp := &smaState{Period: s.Period}
	cp.Window = append([]float64(nil), s.Window...)
	return cp
}

type smaStep struct{}

func (smaStep) NewState(params map[string]registry.Value) (registry.State, error) {
	period, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	return &smaState{Period: period}, nil
}

func (smaStep) Step(st registry.State, in registry.StepInput) (registry.StepOutput, error) {
	s := st.(*smaState)
	s.Window = append(s.Window, in.Primary)
	if len(s.Window) > s.Period {
		s.Window = s.Window[len(s.Window)-s.Period:]
	}
	if len(s.Window) < s.Period {
		return registry.StepOutput{}, nil
	}
	sum := 0.0
	for _, v := range s.Window {
		sum += v
	}
	return registry.StepOutput{Value: sum / float64(s.Period), Ready: true}, nil
}
