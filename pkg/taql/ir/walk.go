package ir

// Walk visits n and its children in pre-order. Returning false from f stops
// descent into that subtree.
func Walk(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, f)
	}
}

// Clone returns a structurally identical deep copy of n. Literal series
// payloads are shared, not copied; they are externally owned.
func Clone(n Node) Node {
	switch e := n.(type) {
	case *Literal:
		cp := *e
		return &cp
	case *SourceRef:
		cp := *e
		return &cp
	case *Call:
		cp := *e
		cp.Args = make([]Node, len(e.Args))
		for i, a := range e.Args {
			cp.Args[i] = Clone(a)
		}
		cp.Kwargs = make([]Kwarg, len(e.Kwargs))
		for i, kw := range e.Kwargs {
			cp.Kwargs[i] = Kwarg{Name: kw.Name, Value: Clone(kw.Value)}
		}
		return &cp
	case *BinaryOp:
		cp := *e
		cp.Left = Clone(e.Left)
		cp.Right = Clone(e.Right)
		return &cp
	case *UnaryOp:
		cp := *e
		cp.Operand = Clone(e.Operand)
		return &cp
	case *Filter:
		cp := *e
		cp.Series = Clone(e.Series)
		cp.Condition = Clone(e.Condition)
		return &cp
	case *Aggregate:
		cp := *e
		cp.Series = Clone(e.Series)
		return &cp
	case *TimeShift:
		cp := *e
		cp.Series = Clone(e.Series)
		return &cp
	case *MemberAccess:
		cp := *e
		cp.Target = Clone(e.Target)
		return &cp
	case *Index:
		cp := *e
		cp.Target = Clone(e.Target)
		return &cp
	}
	return n
}

// Equal reports structural equality of two nodes, including span and type
// metadata. Literals wrapping a series compare by pointer identity.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() || a.Meta() != b.Meta() {
		return false
	}
	switch x := a.(type) {
	case *Literal:
		y := b.(*Literal)
		return valueEqual(x.Value, y.Value)
	case *SourceRef:
		y := b.(*SourceRef)
		return *x == *y
	case *Call:
		y := b.(*Call)
		if x.Name != y.Name || x.Output != y.Output ||
			len(x.Args) != len(y.Args) || len(x.Kwargs) != len(y.Kwargs) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		for i := range x.Kwargs {
			if x.Kwargs[i].Name != y.Kwargs[i].Name || !Equal(x.Kwargs[i].Value, y.Kwargs[i].Value) {
				return false
			}
		}
		return true
	case *BinaryOp:
		y := b.(*BinaryOp)
		return x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *UnaryOp:
		y := b.(*UnaryOp)
		return x.Op == y.Op && Equal(x.Operand, y.Operand)
	case *Filter:
		y := b.(*Filter)
		return Equal(x.Series, y.Series) && Equal(x.Condition, y.Condition)
	case *Aggregate:
		y := b.(*Aggregate)
		return x.Operation == y.Operation && x.Field == y.Field && Equal(x.Series, y.Series)
	case *TimeShift:
		y := b.(*TimeShift)
		return x.Shift == y.Shift && x.Operation == y.Operation && Equal(x.Series, y.Series)
	case *MemberAccess:
		y := b.(*MemberAccess)
		return x.Member == y.Member && Equal(x.Target, y.Target)
	case *Index:
		y := b.(*Index)
		return x.Index == y.Index && Equal(x.Target, y.Target)
	}
	return false
}

func valueEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValueNumber:
		return a.Num == b.Num
	case ValueBool:
		return a.Bool == b.Bool
	case ValueString:
		return a.Str == b.Str
	case ValueSeries:
		// Series literals have no canonical structural equality; identity only.
		return a.Series == b.Series
	}
	return false
}
