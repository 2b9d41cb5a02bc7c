package taql

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
)

func plan(t *testing.T, root ir.Node) *PlanResult {
	t.Helper()
	p := NewPlanner(testRegistry(t), NewPolicyStack(series.DefaultPolicy()))
	result, err := p.Plan(Normalize(root))
	require.NoError(t, err)
	return result
}

func TestPlanTopologicalOrder(t *testing.T) {
	result := plan(t, &ir.BinaryOp{
		Op:    ir.OpSub,
		Left:  smaCall(closeRef(), 20),
		Right: smaCall(closeRef(), 50),
	})

	seen := map[NodeID]bool{}
	for _, id := range result.NodeOrder {
		for _, child := range result.Graph.Nodes[id].Children {
			require.True(t, seen[child], "node %d evaluated before its child %d", id, child)
		}
		seen[id] = true
	}
	require.Len(t, result.NodeOrder, len(result.Graph.Nodes))
	require.Equal(t, result.Graph.RootID, result.NodeOrder[len(result.NodeOrder)-1])
}

func TestPlanLookbackPropagation(t *testing.T) {
	// sma(rsi(close, 14), 20): the sma needs 20 rsi values, each rsi value
	// needs 14 closes, so close needs 20 + 14 - 1 = 33 bars.
	result := plan(t, smaCall(&ir.Call{Name: "rsi", Args: []ir.Node{closeRef(), num(14)}}, 20))

	require.Equal(t, 1, result.Lookbacks[result.Graph.RootID])
	require.Len(t, result.Requirements, 1)
	req := result.Requirements[0]
	require.Equal(t, DefaultSource, req.Source)
	require.Equal(t, "close", req.Field)
	require.Equal(t, 33, req.MinLookback)
}

func TestPlanMergesRequirementsByMax(t *testing.T) {
	result := plan(t, &ir.BinaryOp{
		Op:    ir.OpSub,
		Left:  smaCall(closeRef(), 50),
		Right: smaCall(closeRef(), 20),
	})
	require.Len(t, result.Requirements, 1)
	require.Equal(t, 50, result.Requirements[0].MinLookback)
}

func TestPlanDefaultLookback(t *testing.T) {
	// rsi without an explicit period uses its schema default.
	result := plan(t, &ir.Call{Name: "rsi", Args: []ir.Node{closeRef()}})
	require.Len(t, result.Requirements, 1)
	require.Equal(t, 14, result.Requirements[0].MinLookback)
}

func TestPlanNoInputCallChargesRequiredFields(t *testing.T) {
	result := plan(t, &ir.Call{Name: "atr", Args: []ir.Node{num(14)}})
	require.Len(t, result.Requirements, 3)
	fields := map[string]int{}
	for _, req := range result.Requirements {
		require.Equal(t, DefaultSource, req.Source)
		fields[req.Field] = req.MinLookback
	}
	require.Equal(t, map[string]int{"high": 14, "low": 14, "close": 14}, fields)
}

func TestPlanNestedNoInputCallWidensFields(t *testing.T) {
	// sma(atr(14), 5): the sma needs 5 atr values, each atr value needs 14
	// bars, so the raw fields need 5 + 14 - 1 = 18 bars.
	result := plan(t, smaCall(&ir.Call{Name: "atr", Args: []ir.Node{num(14)}}, 5))
	fields := map[string]int{}
	for _, req := range result.Requirements {
		fields[req.Field] = req.MinLookback
	}
	require.Equal(t, map[string]int{"high": 18, "low": 18, "close": 18}, fields)
}

func TestPlanCapturesAlignmentPolicy(t *testing.T) {
	policies := NewPolicyStack(series.DefaultPolicy())
	p := NewPlanner(testRegistry(t), policies)

	var outer *PlanResult
	policies.With(series.Policy{How: series.HowOuter, Fill: series.FillFfill}, func() {
		var err error
		outer, err = p.Plan(closeRef())
		require.NoError(t, err)
	})
	require.Equal(t, series.HowOuter, outer.Alignment.How)

	after, err := p.Plan(closeRef())
	require.NoError(t, err)
	require.Equal(t, series.HowInner, after.Alignment.How)
}

func TestPlanUnknownIndicatorFails(t *testing.T) {
	p := NewPlanner(testRegistry(t), NewPolicyStack(series.DefaultPolicy()))
	_, err := p.Plan(&ir.Call{Name: "vwmacd", Args: []ir.Node{closeRef()}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPlanning))
}

func TestPlanSymbolPinnedRequirement(t *testing.T) {
	result := plan(t, &ir.BinaryOp{
		Op:    ir.OpSub,
		Left:  &ir.SourceRef{Field: "close", Symbol: "ETH-USD"},
		Right: closeRef(),
	})
	require.Len(t, result.Requirements, 2)
	symbols := []string{result.Requirements[0].Symbol, result.Requirements[1].Symbol}
	require.ElementsMatch(t, []string{"", "ETH-USD"}, symbols)
}
