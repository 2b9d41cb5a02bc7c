package taql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/series"
)

func TestPolicyStackScoping(t *testing.T) {
	s := NewPolicyStack(series.DefaultPolicy())
	require.Equal(t, series.HowInner, s.Current().How)

	s.Push(series.Policy{How: series.HowOuter})
	require.Equal(t, series.HowOuter, s.Current().How)
	s.Pop()
	require.Equal(t, series.HowInner, s.Current().How)
}

func TestPolicyStackDefaultIsNeverPopped(t *testing.T) {
	s := NewPolicyStack(series.DefaultPolicy())
	s.Pop()
	s.Pop()
	require.Equal(t, series.DefaultPolicy(), s.Current())
}

func TestPolicyStackWith(t *testing.T) {
	s := NewPolicyStack(series.DefaultPolicy())
	var inside series.How
	s.With(series.Policy{How: series.HowOuter, Fill: series.FillFfill}, func() {
		inside = s.Current().How
	})
	require.Equal(t, series.HowOuter, inside)
	require.Equal(t, series.HowInner, s.Current().How)
}
