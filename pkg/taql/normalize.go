package taql

import (
	"math"

	"github.com/laakhay/ta-go/pkg/taql/ir"
)

// Normalize canonicalizes an IR tree: field aliases resolve to canonical
// names, member access over calls collapses into the call's output selector,
// constant sub-expressions fold, and boolean identities simplify. The result
// is a fixed point: normalizing an already-normalized tree returns a
// structurally equal one.
func Normalize(n ir.Node) ir.Node {
	switch e := n.(type) {
	case *ir.Literal:
		return e

	case *ir.SourceRef:
		return normalizeSourceRef(e)

	case *ir.Call:
		return normalizeCall(e)

	case *ir.BinaryOp:
		return normalizeBinary(e)

	case *ir.UnaryOp:
		return normalizeUnary(e)

	case *ir.Filter:
		s, c := Normalize(e.Series), Normalize(e.Condition)
		if s == e.Series && c == e.Condition {
			return e
		}
		return &ir.Filter{Meta_: e.Meta_, Series: s, Condition: c}

	case *ir.Aggregate:
		s := Normalize(e.Series)
		field := e.Field
		if field != "" && sourceOf(s) == DefaultSource {
			field = CanonicalField(field)
		}
		if s == e.Series && field == e.Field {
			return e
		}
		return &ir.Aggregate{Meta_: e.Meta_, Series: s, Operation: e.Operation, Field: field}

	case *ir.TimeShift:
		s := Normalize(e.Series)
		if s == e.Series {
			return e
		}
		return &ir.TimeShift{Meta_: e.Meta_, Series: s, Shift: e.Shift, Operation: e.Operation}

	case *ir.MemberAccess:
		return normalizeMember(e)

	case *ir.Index:
		t := Normalize(e.Target)
		if t == e.Target {
			return e
		}
		return &ir.Index{Meta_: e.Meta_, Target: t, Index: e.Index}
	}
	return n
}

func normalizeSourceRef(e *ir.SourceRef) ir.Node {
	if e.Source != "" && e.Source != DefaultSource {
		return e
	}
	canonical := CanonicalField(e.Field)
	if canonical == e.Field {
		return e
	}
	cp := *e
	cp.Field = canonical
	return &cp
}

func normalizeCall(e *ir.Call) ir.Node {
	changed := false
	args := make([]ir.Node, len(e.Args))
	for i, a := range e.Args {
		args[i] = Normalize(a)
		changed = changed || args[i] != a
	}
	kwargs := make([]ir.Kwarg, len(e.Kwargs))
	for i, kw := range e.Kwargs {
		kwargs[i] = ir.Kwarg{Name: kw.Name, Value: Normalize(kw.Value)}
		changed = changed || kwargs[i].Value != kw.Value
	}
	if !changed {
		return e
	}
	return &ir.Call{Meta_: e.Meta_, Name: e.Name, Args: args, Kwargs: kwargs, Output: e.Output}
}

// normalizeMember rewrites member access over a call into the call's output
// selector, and member access over a bare source into a field selection.
func normalizeMember(e *ir.MemberAccess) ir.Node {
	target := Normalize(e.Target)
	switch t := target.(type) {
	case *ir.Call:
		if t.Output == "" {
			return &ir.Call{Meta_: e.Meta_, Name: t.Name, Args: t.Args, Kwargs: t.Kwargs, Output: e.Member}
		}
	case *ir.SourceRef:
		if t.Field == "" {
			field := e.Member
			if t.Source == "" || t.Source == DefaultSource {
				field = CanonicalField(field)
			}
			return &ir.SourceRef{
				Meta_:     e.Meta_,
				Source:    t.Source,
				Field:     field,
				Symbol:    t.Symbol,
				Exchange:  t.Exchange,
				Timeframe: t.Timeframe,
			}
		}
	}
	if target == e.Target {
		return e
	}
	return &ir.MemberAccess{Meta_: e.Meta_, Target: target, Member: e.Member}
}

func normalizeBinary(e *ir.BinaryOp) ir.Node {
	left, right := Normalize(e.Left), Normalize(e.Right)

	// Boolean short-circuit identities apply even when the other operand
	// cannot fold.
	if simplified, ok := simplifyBoolIdentity(e, left, right); ok {
		return simplified
	}

	if l, lok := constOperand(left); lok {
		if r, rok := constOperand(right); rok {
			if folded, ok := foldBinary(e.Op, l, r); ok {
				return &ir.Literal{Meta_: e.Meta_, Value: folded}
			}
		}
	}

	if left == e.Left && right == e.Right {
		return e
	}
	return &ir.BinaryOp{Meta_: e.Meta_, Op: e.Op, Left: left, Right: right}
}

func normalizeUnary(e *ir.UnaryOp) ir.Node {
	operand := Normalize(e.Operand)
	if v, ok := constOperand(operand); ok {
		if folded, ok := foldUnary(e.Op, v); ok {
			return &ir.Literal{Meta_: e.Meta_, Value: folded}
		}
	}
	if operand == e.Operand {
		return e
	}
	return &ir.UnaryOp{Meta_: e.Meta_, Op: e.Op, Operand: operand}
}

// constOperand extracts a foldable literal value. Series literals are
// externally owned data, never folded.
func constOperand(n ir.Node) (ir.Value, bool) {
	lit, ok := n.(*ir.Literal)
	if !ok {
		return ir.Value{}, false
	}
	switch lit.Value.Kind {
	case ir.ValueNumber, ir.ValueBool:
		return lit.Value, true
	}
	return ir.Value{}, false
}

func simplifyBoolIdentity(e *ir.BinaryOp, left, right ir.Node) (ir.Node, bool) {
	if e.Op != ir.OpAnd && e.Op != ir.OpOr {
		return nil, false
	}
	check := func(lit, other ir.Node) (ir.Node, bool) {
		l, ok := lit.(*ir.Literal)
		if !ok || l.Value.Kind != ir.ValueBool {
			return nil, false
		}
		truth := l.Value.Bool
		if e.Op == ir.OpAnd {
			if truth {
				return other, true // and(true, x) -> x
			}
			return &ir.Literal{Meta_: e.Meta_, Value: ir.Bool(false)}, true
		}
		if truth {
			return &ir.Literal{Meta_: e.Meta_, Value: ir.Bool(true)}, true
		}
		return other, true // or(false, x) -> x
	}
	if out, ok := check(left, right); ok {
		return out, true
	}
	if out, ok := check(right, left); ok {
		return out, true
	}
	return nil, false
}

// foldBinary attempts an exact constant fold. "No fold" is a first-class
// outcome: division and modulo by a literal zero stay unevaluated.
func foldBinary(op string, l, r ir.Value) (ir.Value, bool) {
	lv, rv := numOf(l), numOf(r)
	switch op {
	case ir.OpAdd:
		return ir.Number(lv + rv), true
	case ir.OpSub:
		return ir.Number(lv - rv), true
	case ir.OpMul:
		return ir.Number(lv * rv), true
	case ir.OpDiv:
		if rv == 0 {
			return ir.Value{}, false
		}
		return ir.Number(lv / rv), true
	case ir.OpMod:
		if rv == 0 {
			return ir.Value{}, false
		}
		return ir.Number(math.Mod(lv, rv)), true
	case ir.OpPow:
		return ir.Number(math.Pow(lv, rv)), true
	case ir.OpGt:
		return ir.Bool(lv > rv), true
	case ir.OpGte:
		return ir.Bool(lv >= rv), true
	case ir.OpLt:
		return ir.Bool(lv < rv), true
	case ir.OpLte:
		return ir.Bool(lv <= rv), true
	case ir.OpEq:
		return ir.Bool(lv == rv), true
	case ir.OpNeq:
		return ir.Bool(lv != rv), true
	case ir.OpAnd:
		return ir.Bool(truthyValue(l) && truthyValue(r)), true
	case ir.OpOr:
		return ir.Bool(truthyValue(l) || truthyValue(r)), true
	}
	return ir.Value{}, false
}

func foldUnary(op string, v ir.Value) (ir.Value, bool) {
	switch op {
	case ir.OpNeg:
		if v.Kind == ir.ValueNumber {
			return ir.Number(-v.Num), true
		}
	case ir.OpPos:
		if v.Kind == ir.ValueNumber {
			return v, true
		}
	case ir.OpNot:
		return ir.Bool(!truthyValue(v)), true
	}
	return ir.Value{}, false
}

func numOf(v ir.Value) float64 {
	if v.Kind == ir.ValueBool {
		if v.Bool {
			return 1
		}
		return 0
	}
	return v.Num
}

func truthyValue(v ir.Value) bool {
	if v.Kind == ir.ValueBool {
		return v.Bool
	}
	return v.Num != 0
}

func sourceOf(n ir.Node) string {
	if ref, ok := n.(*ir.SourceRef); ok {
		if ref.Source == "" {
			return DefaultSource
		}
		return ref.Source
	}
	return DefaultSource
}
