// Package ir defines the closed set of expression node kinds the engine
// compiles and executes. Nodes are immutable once built and compared by
// content, with one exception: literals wrapping a series value compare by
// identity and are never structurally equal to another node.
package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/laakhay/ta-go/pkg/series"
)

// Kind discriminates the node variants.
type Kind string

const (
	KindLiteral      Kind = "literal"
	KindSourceRef    Kind = "source_ref"
	KindCall         Kind = "call"
	KindBinaryOp     Kind = "binary_op"
	KindUnaryOp      Kind = "unary_op"
	KindFilter       Kind = "filter"
	KindAggregate    Kind = "aggregate"
	KindTimeShift    Kind = "timeshift"
	KindMemberAccess Kind = "member_access"
	KindIndex        Kind = "index"
)

// Type is the static type tag attached to a node by the checker.
type Type string

const (
	TypeUnknown      Type = "unknown"
	TypeSeriesNumber Type = "series_number"
	TypeSeriesBool   Type = "series_bool"
	TypeScalarNumber Type = "scalar_number"
	TypeScalarBool   Type = "scalar_bool"
)

// Binary operators.
const (
	OpAdd = "add"
	OpSub = "sub"
	OpMul = "mul"
	OpDiv = "div"
	OpMod = "mod"
	OpPow = "pow"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
	OpEq  = "eq"
	OpNeq = "neq"
	OpAnd = "and"
	OpOr  = "or"
)

// Unary operators.
const (
	OpNeg = "neg"
	OpPos = "pos"
	OpNot = "not"
)

// Meta carries the optional source span and type tag every node kind shares.
type Meta struct {
	SpanStart int
	SpanEnd   int
	Tag       Type
}

func (m Meta) Span() (int, int) { return m.SpanStart, m.SpanEnd }

// TypeTag returns the node's static type, defaulting to unknown.
func (m Meta) TypeTag() Type {
	if m.Tag == "" {
		return TypeUnknown
	}
	return m.Tag
}

// Node is one expression node. The set of implementations is closed.
type Node interface {
	Kind() Kind
	Meta() Meta
	Children() []Node
	String() string
}

// ValueKind discriminates literal payloads.
type ValueKind uint8

const (
	ValueNumber ValueKind = iota
	ValueBool
	ValueString
	ValueSeries
)

// Value is a literal payload: a number, boolean, string, or an externally
// supplied series.
type Value struct {
	Kind   ValueKind
	Num    float64
	Bool   bool
	Str    string
	Series *series.Series
}

func Number(v float64) Value        { return Value{Kind: ValueNumber, Num: v} }
func Bool(v bool) Value             { return Value{Kind: ValueBool, Bool: v} }
func String(v string) Value         { return Value{Kind: ValueString, Str: v} }
func SeriesVal(s *series.Series) Value { return Value{Kind: ValueSeries, Series: s} }

func (v Value) String() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueString:
		return strconv.Quote(v.Str)
	case ValueSeries:
		return fmt.Sprintf("series(%d points)", v.Series.Len())
	}
	return "?"
}

// Literal wraps a constant value.
type Literal struct {
	Meta_ Meta
	Value Value
}

func (n *Literal) Kind() Kind       { return KindLiteral }
func (n *Literal) Meta() Meta       { return n.Meta_ }
func (n *Literal) Children() []Node { return nil }
func (n *Literal) String() string   { return n.Value.String() }

// SourceRef selects a field from a named data source, optionally pinned to
// a symbol, exchange, or timeframe.
type SourceRef struct {
	Meta_     Meta
	Source    string
	Field     string
	Symbol    string
	Exchange  string
	Timeframe string
}

func (n *SourceRef) Kind() Kind       { return KindSourceRef }
func (n *SourceRef) Meta() Meta       { return n.Meta_ }
func (n *SourceRef) Children() []Node { return nil }
func (n *SourceRef) String() string {
	if n.Source == "" || n.Source == "ohlcv" {
		return n.Field
	}
	return n.Source + "." + n.Field
}

// Kwarg is one named argument of a call node. Order is preserved.
type Kwarg struct {
	Name  string
	Value Node
}

// Call invokes a registered indicator with positional and named arguments.
// Output selects one series of a multi-output indicator; empty means the
// indicator's default line.
type Call struct {
	Meta_  Meta
	Name   string
	Args   []Node
	Kwargs []Kwarg
	Output string
}

func (n *Call) Kind() Kind { return KindCall }
func (n *Call) Meta() Meta { return n.Meta_ }
func (n *Call) Children() []Node {
	out := make([]Node, 0, len(n.Args)+len(n.Kwargs))
	out = append(out, n.Args...)
	for _, kw := range n.Kwargs {
		out = append(out, kw.Value)
	}
	return out
}
func (n *Call) String() string {
	parts := make([]string, 0, len(n.Args)+len(n.Kwargs))
	for _, a := range n.Args {
		parts = append(parts, a.String())
	}
	for _, kw := range n.Kwargs {
		parts = append(parts, kw.Name+"="+kw.Value.String())
	}
	s := n.Name + "(" + strings.Join(parts, ", ") + ")"
	if n.Output != "" {
		s += "." + n.Output
	}
	return s
}

// BinaryOp combines two operands with an arithmetic, comparison, or logical
// operator.
type BinaryOp struct {
	Meta_ Meta
	Op    string
	Left  Node
	Right Node
}

func (n *BinaryOp) Kind() Kind       { return KindBinaryOp }
func (n *BinaryOp) Meta() Meta       { return n.Meta_ }
func (n *BinaryOp) Children() []Node { return []Node{n.Left, n.Right} }
func (n *BinaryOp) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

// UnaryOp applies neg, pos, or not to a single operand.
type UnaryOp struct {
	Meta_   Meta
	Op      string
	Operand Node
}

func (n *UnaryOp) Kind() Kind       { return KindUnaryOp }
func (n *UnaryOp) Meta() Meta       { return n.Meta_ }
func (n *UnaryOp) Children() []Node { return []Node{n.Operand} }
func (n *UnaryOp) String() string   { return n.Op + "(" + n.Operand.String() + ")" }

// Filter keeps series samples where the condition is truthy.
type Filter struct {
	Meta_     Meta
	Series    Node
	Condition Node
}

func (n *Filter) Kind() Kind       { return KindFilter }
func (n *Filter) Meta() Meta       { return n.Meta_ }
func (n *Filter) Children() []Node { return []Node{n.Series, n.Condition} }
func (n *Filter) String() string {
	return n.Series.String() + ".filter(" + n.Condition.String() + ")"
}

// Aggregate collapses a series to a scalar with sum/avg/max/min/count.
type Aggregate struct {
	Meta_     Meta
	Series    Node
	Operation string
	Field     string
}

func (n *Aggregate) Kind() Kind       { return KindAggregate }
func (n *Aggregate) Meta() Meta       { return n.Meta_ }
func (n *Aggregate) Children() []Node { return []Node{n.Series} }
func (n *Aggregate) String() string {
	if n.Field != "" {
		return n.Series.String() + "." + n.Operation + "(" + n.Field + ")"
	}
	return n.Series.String() + "." + n.Operation
}

// TimeShift reads a series at an offset in the past, e.g. close.24h_ago.
type TimeShift struct {
	Meta_     Meta
	Series    Node
	Shift     string
	Operation string
}

func (n *TimeShift) Kind() Kind       { return KindTimeShift }
func (n *TimeShift) Meta() Meta       { return n.Meta_ }
func (n *TimeShift) Children() []Node { return []Node{n.Series} }
func (n *TimeShift) String() string {
	op := n.Operation
	if op == "" {
		op = "ago"
	}
	return n.Series.String() + "." + n.Shift + "_" + op
}

// MemberAccess selects a named member of its target, e.g. macd(...).signal.
type MemberAccess struct {
	Meta_  Meta
	Target Node
	Member string
}

func (n *MemberAccess) Kind() Kind       { return KindMemberAccess }
func (n *MemberAccess) Meta() Meta       { return n.Meta_ }
func (n *MemberAccess) Children() []Node { return []Node{n.Target} }
func (n *MemberAccess) String() string   { return n.Target.String() + "." + n.Member }

// Index selects one sample from its target by position; negative indexes
// count from the end.
type Index struct {
	Meta_  Meta
	Target Node
	Index  int
}

func (n *Index) Kind() Kind       { return KindIndex }
func (n *Index) Meta() Meta       { return n.Meta_ }
func (n *Index) Children() []Node { return []Node{n.Target} }
func (n *Index) String() string   { return n.Target.String() + "[" + strconv.Itoa(n.Index) + "]" }
