package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/series"
)

func sampleTree() Node {
	return &BinaryOp{
		Op: OpSub,
		Left: &Call{
			Name: "sma",
			Args: []Node{&SourceRef{Field: "close"}, &Literal{Value: Number(20)}},
		},
		Right: &Call{
			Name: "sma",
			Args: []Node{&SourceRef{Field: "close"}, &Literal{Value: Number(50)}},
		},
	}
}

func TestWalkPreOrder(t *testing.T) {
	var kinds []Kind
	Walk(sampleTree(), func(n Node) bool {
		kinds = append(kinds, n.Kind())
		return true
	})
	require.Equal(t, []Kind{
		KindBinaryOp,
		KindCall, KindSourceRef, KindLiteral,
		KindCall, KindSourceRef, KindLiteral,
	}, kinds)
}

func TestWalkStopsDescent(t *testing.T) {
	var count int
	Walk(sampleTree(), func(n Node) bool {
		count++
		return n.Kind() != KindCall
	})
	// Root plus the two calls; nothing below them.
	require.Equal(t, 3, count)
}

func TestCloneIsDeepAndEqual(t *testing.T) {
	orig := sampleTree().(*BinaryOp)
	cp := Clone(orig).(*BinaryOp)

	require.True(t, Equal(orig, cp))
	require.NotSame(t, orig.Left, cp.Left)

	cp.Left.(*Call).Args[1] = &Literal{Value: Number(99)}
	require.False(t, Equal(orig, cp))
	require.Equal(t, Number(20), orig.Left.(*Call).Args[1].(*Literal).Value)
}

func TestCloneSharesSeriesPayload(t *testing.T) {
	s := &series.Series{Values: []float64{1, 2, 3}}
	orig := &Literal{Value: SeriesVal(s)}
	cp := Clone(orig).(*Literal)
	require.Same(t, s, cp.Value.Series)
}

func TestEqualComparesMeta(t *testing.T) {
	a := &Literal{Meta_: Meta{SpanStart: 1}, Value: Number(1)}
	b := &Literal{Value: Number(1)}
	require.False(t, Equal(a, b))
}

func TestEqualSeriesLiteralsByIdentity(t *testing.T) {
	s1 := &series.Series{Values: []float64{1}}
	s2 := &series.Series{Values: []float64{1}}
	require.True(t, Equal(&Literal{Value: SeriesVal(s1)}, &Literal{Value: SeriesVal(s1)}))
	require.False(t, Equal(&Literal{Value: SeriesVal(s1)}, &Literal{Value: SeriesVal(s2)}))
}
