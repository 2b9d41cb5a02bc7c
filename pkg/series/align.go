package series

import (
	"strconv"

	"github.com/pkg/errors"
)

// How selects which timestamps survive an alignment join.
type How string

// Fill selects how outer-join gaps are populated.
type Fill string

const (
	HowInner How = "inner"
	HowOuter How = "outer"

	FillNone  Fill = "none"
	FillFfill Fill = "ffill"
)

// Policy is the join/fill rule used when combining two series of possibly
// different timestamps. LeftFillValue/RightFillValue seed a side before its
// first real value is available.
type Policy struct {
	How            How      `yaml:"how"`
	Fill           Fill     `yaml:"fill"`
	LeftFillValue  *float64 `yaml:"left_fill_value"`
	RightFillValue *float64 `yaml:"right_fill_value"`
}

// DefaultPolicy is the engine-wide default: inner join, no filling.
func DefaultPolicy() Policy {
	return Policy{How: HowInner, Fill: FillNone}
}

// CacheKey returns a stable string form of the policy for cache keying.
// Seed values are part of the key: policies differing only in seed must not
// share cached results.
func (p Policy) CacheKey() string {
	key := string(p.How) + "/" + string(p.Fill)
	if p.LeftFillValue != nil {
		key += "/l=" + strconv.FormatFloat(*p.LeftFillValue, 'g', -1, 64)
	}
	if p.RightFillValue != nil {
		key += "/r=" + strconv.FormatFloat(*p.RightFillValue, 'g', -1, 64)
	}
	return key
}

// Align produces a pair of equal-length, timestamp-aligned series from two
// inputs per the policy. Inputs must be timestamp-ascending.
func Align(left, right Series, p Policy) (Series, Series, error) {
	switch p.How {
	case HowInner:
		return alignInner(left, right)
	case HowOuter:
		return alignOuter(left, right, p)
	default:
		return Series{}, Series{}, errors.Errorf("unknown alignment mode %q", p.How)
	}
}

func alignInner(left, right Series) (Series, Series, error) {
	var (
		ts     []int64
		lv, rv []float64
	)
	i, j := 0, 0
	for i < left.Len() && j < right.Len() {
		lt, rt := left.Timestamps[i], right.Timestamps[j]
		switch {
		case lt == rt:
			ts = append(ts, lt)
			lv = append(lv, left.Values[i])
			rv = append(rv, right.Values[j])
			i++
			j++
		case lt < rt:
			i++
		default:
			j++
		}
	}
	outLeft := Series{Timestamps: ts, Values: lv, Symbol: left.Symbol, Timeframe: left.Timeframe}
	outRight := Series{Timestamps: ts, Values: rv, Symbol: right.Symbol, Timeframe: right.Timeframe}
	return outLeft, outRight, nil
}

func alignOuter(left, right Series, p Policy) (Series, Series, error) {
	var (
		ts     []int64
		lv, rv []float64
	)

	// Per side: the last known value (seed or real) and whether a real value
	// has been observed yet. Seed values apply only before the first real one
	// unless forward-filling is on.
	type sideState struct {
		last     float64
		haveLast bool
		seenReal bool
	}
	ls, rs := sideState{last: Missing}, sideState{last: Missing}
	if p.LeftFillValue != nil {
		ls.last, ls.haveLast = *p.LeftFillValue, true
	}
	if p.RightFillValue != nil {
		rs.last, rs.haveLast = *p.RightFillValue, true
	}

	gap := func(st sideState) float64 {
		if !st.haveLast {
			return Missing
		}
		if p.Fill == FillFfill || !st.seenReal {
			return st.last
		}
		return Missing
	}

	i, j := 0, 0
	for i < left.Len() || j < right.Len() {
		var t int64
		takeLeft := i < left.Len()
		takeRight := j < right.Len()
		if takeLeft && takeRight {
			lt, rt := left.Timestamps[i], right.Timestamps[j]
			if lt < rt {
				takeRight = false
				t = lt
			} else if rt < lt {
				takeLeft = false
				t = rt
			} else {
				t = lt
			}
		} else if takeLeft {
			t = left.Timestamps[i]
		} else {
			t = right.Timestamps[j]
		}

		ts = append(ts, t)
		if takeLeft {
			ls = sideState{last: left.Values[i], haveLast: true, seenReal: true}
			lv = append(lv, left.Values[i])
			i++
		} else {
			lv = append(lv, gap(ls))
		}
		if takeRight {
			rs = sideState{last: right.Values[j], haveLast: true, seenReal: true}
			rv = append(rv, right.Values[j])
			j++
		} else {
			rv = append(rv, gap(rs))
		}
	}

	outLeft := Series{Timestamps: ts, Values: lv, Symbol: left.Symbol, Timeframe: left.Timeframe}
	outRight := Series{Timestamps: ts, Values: rv, Symbol: right.Symbol, Timeframe: right.Timeframe}
	return outLeft, outRight, nil
}
