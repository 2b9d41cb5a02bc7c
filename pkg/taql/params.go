package taql

import (
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// mapCallParams resolves a call's scalar literal arguments onto its schema
// parameters and applies declared defaults. Expression arguments bind to
// series inputs and never appear in the returned map; the graph builder
// allocates children for them in the same Args-then-Kwargs order, which is
// how evaluators pair children back up with parameters.
//
// The tree is assumed type-checked, so only malformed registries can fail
// here.
func mapCallParams(call *ir.Call, schema registry.Schema) (map[string]registry.Value, error) {
	params := schema.Params
	out := make(map[string]registry.Value, len(params))

	args := call.Args
	if len(args) > 0 {
		_, isLiteral := args[0].(*ir.Literal)
		firstIsSeries := len(params) > 0 && params[0].Kind == registry.ParamSeries
		if !isLiteral && !firstIsSeries {
			args = args[1:] // implicit primary input
		}
	}

	for i, arg := range args {
		if i >= len(params) {
			return nil, newPlanningError("call %s has %d positional arguments for %d parameters",
				call.Name, len(args), len(params))
		}
		if lit, ok := arg.(*ir.Literal); ok && lit.Value.Kind != ir.ValueSeries {
			out[params[i].Name] = paramValue(lit.Value)
		}
	}

	for _, kw := range call.Kwargs {
		if lit, ok := kw.Value.(*ir.Literal); ok && lit.Value.Kind != ir.ValueSeries {
			out[kw.Name] = paramValue(lit.Value)
		}
	}

	for _, p := range params {
		if _, bound := out[p.Name]; !bound && p.Default != nil {
			out[p.Name] = *p.Default
		}
	}
	return out, nil
}

func paramValue(v ir.Value) registry.Value {
	switch v.Kind {
	case ir.ValueBool:
		return registry.BoolValue(v.Bool)
	case ir.ValueString:
		return registry.StrValue(v.Str)
	default:
		return registry.NumValue(v.Num)
	}
}
