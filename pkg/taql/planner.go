package taql

import (
	"sort"

	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// DataRequirement is the minimum history a leaf must supply. Requirements
// sharing the same (source, field, symbol, exchange, timeframe) key merge by
// taking the maximum lookback.
type DataRequirement struct {
	Source      string
	Field       string
	Symbol      string
	Exchange    string
	Timeframe   string
	MinLookback int
}

func (r DataRequirement) key() DataRequirement {
	r.MinLookback = 0
	return r
}

// PlanResult is the compiled, immutable execution plan for one expression.
type PlanResult struct {
	Graph *Graph
	// NodeOrder is topological: every node's children appear earlier.
	NodeOrder    []NodeID
	Requirements []DataRequirement
	Alignment    series.Policy
	// Lookbacks is the per-node minimum required history, root included.
	Lookbacks map[NodeID]int
}

// Planner turns canonical IR into a PlanResult, capturing the alignment
// policy active at plan time.
type Planner struct {
	registry *registry.Registry
	policies *PolicyStack
}

func NewPlanner(reg *registry.Registry, policies *PolicyStack) *Planner {
	return &Planner{registry: reg, policies: policies}
}

// Plan builds the deduplicated graph, its evaluation order, propagated
// lookbacks, and the raw data requirements.
func (p *Planner) Plan(root ir.Node) (*PlanResult, error) {
	graph, err := BuildGraph(root)
	if err != nil {
		return nil, err
	}
	order := topoOrder(graph)
	lookbacks, err := p.propagateLookbacks(graph, order)
	if err != nil {
		return nil, err
	}
	reqs, err := p.collectRequirements(graph, lookbacks)
	if err != nil {
		return nil, err
	}
	return &PlanResult{
		Graph:        graph,
		NodeOrder:    order,
		Requirements: reqs,
		Alignment:    p.policies.Current(),
		Lookbacks:    lookbacks,
	}, nil
}

// topoOrder returns a depth-first post-order from the root: children before
// parents, shared nodes visited once.
func topoOrder(g *Graph) []NodeID {
	order := make([]NodeID, 0, len(g.Nodes))
	visited := make(map[NodeID]bool, len(g.Nodes))

	var visit func(NodeID)
	visit = func(id NodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, child := range g.Nodes[id].Children {
			visit(child)
		}
		order = append(order, id)
	}
	visit(g.RootID)
	return order
}

// propagateLookbacks walks root to leaves. The root needs 1 bar; a call
// node widens its children's requirement by its window; every other kind
// passes its requirement through. Shared children keep the maximum across
// all paths.
func (p *Planner) propagateLookbacks(g *Graph, order []NodeID) (map[NodeID]int, error) {
	lookbacks := make(map[NodeID]int, len(g.Nodes))
	lookbacks[g.RootID] = 1

	// Reverse topological order: every parent before its children.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		gn := g.Nodes[id]
		required := lookbacks[id]

		childRequired := required
		if call, ok := gn.Node.(*ir.Call); ok {
			window, err := p.callWindow(call)
			if err != nil {
				return nil, err
			}
			childRequired = required + window - 1
		}

		for _, child := range gn.Children {
			if childRequired > lookbacks[child] {
				lookbacks[child] = childRequired
			}
		}
	}
	return lookbacks, nil
}

// callWindow resolves the lookback window of one call: the largest literal
// value among the schema's lookback parameters, else the schema default,
// never less than 1.
func (p *Planner) callWindow(call *ir.Call) (int, error) {
	ind, ok := p.registry.Get(call.Name)
	if !ok {
		return 0, newPlanningError("indicator %q not found while planning", call.Name)
	}
	params, err := mapCallParams(call, ind.Schema)
	if err != nil {
		return 0, err
	}

	window := 0
	for _, name := range ind.Schema.Semantics.LookbackParams {
		if v, ok := params[name]; ok && int(v.Num) > window {
			window = int(v.Num)
		}
	}
	if window == 0 {
		window = ind.Schema.Semantics.DefaultLookback
	}
	if window < 1 {
		window = 1
	}
	return window, nil
}

// collectRequirements attributes leaf lookbacks to their raw data keys.
// Call nodes without an explicit input expression charge their default
// field set to the generic ohlcv source.
func (p *Planner) collectRequirements(g *Graph, lookbacks map[NodeID]int) ([]DataRequirement, error) {
	merged := map[DataRequirement]int{}
	merge := func(req DataRequirement) {
		key := req.key()
		if req.MinLookback > merged[key] {
			merged[key] = req.MinLookback
		}
	}

	for id, gn := range g.Nodes {
		switch e := gn.Node.(type) {
		case *ir.SourceRef:
			source := e.Source
			if source == "" {
				source = DefaultSource
			}
			merge(DataRequirement{
				Source:      source,
				Field:       e.Field,
				Symbol:      e.Symbol,
				Exchange:    e.Exchange,
				Timeframe:   e.Timeframe,
				MinLookback: lookbacks[id],
			})

		case *ir.Call:
			if len(gn.Children) > 0 {
				continue // explicit input expressions carry the requirement
			}
			ind, ok := p.registry.Get(e.Name)
			if !ok {
				return nil, newPlanningError("indicator %q not found while collecting requirements", e.Name)
			}
			// With no input expression the widening a child would have
			// received lands on the raw fields directly.
			window, err := p.callWindow(e)
			if err != nil {
				return nil, err
			}
			required := lookbacks[id] + window - 1
			if required < 1 {
				required = 1
			}
			fields := ind.Schema.Semantics.RequiredFields
			if len(fields) == 0 {
				fields = []string{"close"}
			}
			for _, field := range fields {
				merge(DataRequirement{
					Source:      DefaultSource,
					Field:       field,
					MinLookback: required,
				})
			}
		}
	}

	out := make([]DataRequirement, 0, len(merged))
	for key, lookback := range merged {
		key.MinLookback = lookback
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out, nil
}
