package kernels

import (
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

func rsiIndicator() registry.Indicator {
	def := registry.NumValue(14)
	return registry.Indicator{
		Schema: registry.Schema{
			Name: "rsi",
			Params: []registry.ParamSpec{
				{Name: "period", Kind: registry.ParamInt, Default: &def},
			},
			Semantics: registry.Semantics{
				RequiredFields:  []string{"close"},
				LookbackParams:  []string{"period"},
				DefaultLookback: 14,
			},
		},
		Batch: rsiBatch{},
		Step:  rsiStep{},
	}
}

// rsiFrom converts smoothed averages to the oscillator value. A flat loss
// average pins the output at 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

type rsiBatch struct{}

// Compute uses Wilder's smoothing: the first average is the simple mean of
// the first period deltas, later averages blend (period-1)/period of the
// previous value with the new delta.
func (rsiBatch) Compute(in registry.ComputeInput) (series.Series, error) {
	period, err := intParam(in.Params, "period")
	if err != nil {
		return series.Series{}, err
	}
	src, err := primaryInput(in, "close")
	if err != nil {
		return series.Series{}, err
	}

	out := emptyLike(src)
	if src.Len() <= period {
		return out, nil
	}

	var sumGain, sumLoss float64
	for i := 1; i <= period; i++ {
		delta := src.Values[i] - src.Values[i-1]
		if delta > 0 {
			sumGain += delta
		} else {
			sumLoss -= delta
		}
	}
	avgGain := sumGain / float64(period)
	avgLoss := sumLoss / float64(period)
	out.Values[period] = rsiFrom(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < src.Len(); i++ {
		delta := src.Values[i] - src.Values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out.Values[i] = rsiFrom(avgGain, avgLoss)
	}
	return out, nil
}

type rsiState struct {
	Period  int
	Prev    float64
	HasPrev bool
	// Deltas counts price changes observed so far.
	Deltas  int
	SumGain float64
	SumLoss float64
	AvgGain float64
	AvgLoss float64
}

func (s *rsiState) Clone() registry.State {
	cp := *s
	return &cp
}

type rsiStep struct{}

func (rsiStep) NewState(params map[string]registry.Value) (registry.State, error) {
	period, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	return &rsiState{Period: period}, nil
}

func (rsiStep) Step(st registry.State, in registry.StepInput) (registry.StepOutput, error) {
	s := st.(*rsiState)
	if !s.HasPrev {
		s.Prev = in.Primary
		s.HasPrev = true
		return registry.StepOutput{}, nil
	}

	delta := in.Primary - s.Prev
	s.Prev = in.Primary
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	s.Deltas++

	if s.Deltas < s.Period {
		s.SumGain += gain
		s.SumLoss += loss
		return registry.StepOutput{}, nil
	}
	if s.Deltas == s.Period {
		s.SumGain += gain
		s.SumLoss += loss
		s.AvgGain = s.SumGain / float64(s.Period)
		s.AvgLoss = s.SumLoss / float64(s.Period)
		return registry.StepOutput{Value: rsiFrom(s.AvgGain, s.AvgLoss), Ready: true}, nil
	}

	p := float64(s.Period)
	s.AvgGain = (s.AvgGain*(p-1) + gain) / p
	s.AvgLoss = (s.AvgLoss*(p-1) + loss) / p
	return registry.StepOutput{Value: rsiFrom(s.AvgGain, s.AvgLoss), Ready: true}, nil
}
