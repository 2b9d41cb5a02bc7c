package ir

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/series"
)

// JSONSerializer writes the plain-data form of an IR tree. Each node object
// carries a "type" discriminator plus kind-specific fields; span and type
// metadata are emitted only when non-default.
type JSONSerializer struct {
	*jsoniter.Stream
}

func NewJSONSerializer(s *jsoniter.Stream) *JSONSerializer {
	return &JSONSerializer{Stream: s}
}

// EncodeJSON writes n to w in the plain-data form.
func EncodeJSON(n Node, w io.Writer) error {
	s := jsoniter.ConfigFastest.BorrowStream(w)
	defer jsoniter.ConfigFastest.ReturnStream(s)
	v := NewJSONSerializer(s)
	v.encode(n)
	return s.Flush()
}

// DecodeJSON reconstructs a structurally equal node from the plain-data form.
func DecodeJSON(raw string) (Node, error) {
	it := jsoniter.ParseString(jsoniter.ConfigFastest, raw)
	n := decodeNode(it)
	if it.Error != nil && it.Error != io.EOF {
		return nil, errors.Wrap(it.Error, "failed to decode expression")
	}
	return n, nil
}

func (v *JSONSerializer) encode(n Node) {
	v.WriteObjectStart()
	v.WriteObjectField("type")
	v.WriteString(string(n.Kind()))

	switch e := n.(type) {
	case *Literal:
		v.encodeValue(e.Value)
	case *SourceRef:
		v.field("source", e.Source)
		v.field("field", e.Field)
		v.field("symbol", e.Symbol)
		v.field("exchange", e.Exchange)
		v.field("timeframe", e.Timeframe)
	case *Call:
		v.field("name", e.Name)
		v.field("output", e.Output)
		v.WriteMore()
		v.WriteObjectField("args")
		v.WriteArrayStart()
		for i, a := range e.Args {
			if i > 0 {
				v.WriteMore()
			}
			v.encode(a)
		}
		v.WriteArrayEnd()
		v.WriteMore()
		v.WriteObjectField("kwargs")
		v.WriteArrayStart()
		for i, kw := range e.Kwargs {
			if i > 0 {
				v.WriteMore()
			}
			v.WriteObjectStart()
			v.WriteObjectField("name")
			v.WriteString(kw.Name)
			v.WriteMore()
			v.WriteObjectField("value")
			v.encode(kw.Value)
			v.WriteObjectEnd()
		}
		v.WriteArrayEnd()
	case *BinaryOp:
		v.field("op", e.Op)
		v.WriteMore()
		v.WriteObjectField("left")
		v.encode(e.Left)
		v.WriteMore()
		v.WriteObjectField("right")
		v.encode(e.Right)
	case *UnaryOp:
		v.field("op", e.Op)
		v.WriteMore()
		v.WriteObjectField("operand")
		v.encode(e.Operand)
	case *Filter:
		v.WriteMore()
		v.WriteObjectField("series")
		v.encode(e.Series)
		v.WriteMore()
		v.WriteObjectField("condition")
		v.encode(e.Condition)
	case *Aggregate:
		v.field("operation", e.Operation)
		v.field("field", e.Field)
		v.WriteMore()
		v.WriteObjectField("series")
		v.encode(e.Series)
	case *TimeShift:
		v.field("shift", e.Shift)
		v.field("operation", e.Operation)
		v.WriteMore()
		v.WriteObjectField("series")
		v.encode(e.Series)
	case *MemberAccess:
		v.field("member", e.Member)
		v.WriteMore()
		v.WriteObjectField("target")
		v.encode(e.Target)
	case *Index:
		v.WriteMore()
		v.WriteObjectField("index")
		v.WriteInt(e.Index)
		v.WriteMore()
		v.WriteObjectField("target")
		v.encode(e.Target)
	}

	meta := n.Meta()
	if meta.SpanStart != 0 || meta.SpanEnd != 0 {
		v.WriteMore()
		v.WriteObjectField("span_start")
		v.WriteInt(meta.SpanStart)
		v.WriteMore()
		v.WriteObjectField("span_end")
		v.WriteInt(meta.SpanEnd)
	}
	if meta.Tag != "" && meta.Tag != TypeUnknown {
		v.WriteMore()
		v.WriteObjectField("type_tag")
		v.WriteString(string(meta.Tag))
	}
	v.WriteObjectEnd()
}

func (v *JSONSerializer) field(name, value string) {
	if value == "" {
		return
	}
	v.WriteMore()
	v.WriteObjectField(name)
	v.WriteString(value)
}

func (v *JSONSerializer) encodeValue(val Value) {
	v.WriteMore()
	switch val.Kind {
	case ValueNumber:
		v.WriteObjectField("value")
		v.WriteFloat64(val.Num)
	case ValueBool:
		v.WriteObjectField("bool_value")
		v.WriteBool(val.Bool)
	case ValueString:
		v.WriteObjectField("string_value")
		v.WriteString(val.Str)
	case ValueSeries:
		v.WriteObjectField("series_value")
		v.WriteObjectStart()
		v.WriteObjectField("symbol")
		v.WriteString(val.Series.Symbol)
		v.WriteMore()
		v.WriteObjectField("timeframe")
		v.WriteString(val.Series.Timeframe)
		v.WriteMore()
		v.WriteObjectField("timestamps")
		v.WriteArrayStart()
		for i, ts := range val.Series.Timestamps {
			if i > 0 {
				v.WriteMore()
			}
			v.WriteInt64(ts)
		}
		v.WriteArrayEnd()
		v.WriteMore()
		v.WriteObjectField("values")
		v.WriteArrayStart()
		for i, f := range val.Series.Values {
			if i > 0 {
				v.WriteMore()
			}
			v.WriteFloat64(f)
		}
		v.WriteArrayEnd()
		v.WriteObjectEnd()
	}
}

type rawNode struct {
	kind      Kind
	meta      Meta
	value     Value
	hasValue  bool
	strFields map[string]string
	args      []Node
	kwargs    []Kwarg
	children  map[string]Node
	index     int
}

func decodeNode(it *jsoniter.Iterator) Node {
	raw := rawNode{strFields: map[string]string{}, children: map[string]Node{}}

	for key := it.ReadObject(); key != ""; key = it.ReadObject() {
		switch key {
		case "type":
			raw.kind = Kind(it.ReadString())
		case "value":
			raw.value, raw.hasValue = Number(it.ReadFloat64()), true
		case "bool_value":
			raw.value, raw.hasValue = Bool(it.ReadBool()), true
		case "string_value":
			raw.value, raw.hasValue = String(it.ReadString()), true
		case "series_value":
			raw.value, raw.hasValue = decodeSeriesValue(it), true
		case "span_start":
			raw.meta.SpanStart = it.ReadInt()
		case "span_end":
			raw.meta.SpanEnd = it.ReadInt()
		case "type_tag":
			raw.meta.Tag = Type(it.ReadString())
		case "index":
			raw.index = it.ReadInt()
		case "args":
			for it.ReadArray() {
				raw.args = append(raw.args, decodeNode(it))
			}
		case "kwargs":
			for it.ReadArray() {
				raw.kwargs = append(raw.kwargs, decodeKwarg(it))
			}
		case "left", "right", "operand", "series", "condition", "target":
			raw.children[key] = decodeNode(it)
		default:
			raw.strFields[key] = it.ReadString()
		}
	}

	return raw.build(it)
}

func (raw rawNode) build(it *jsoniter.Iterator) Node {
	switch raw.kind {
	case KindLiteral:
		return &Literal{Meta_: raw.meta, Value: raw.value}
	case KindSourceRef:
		return &SourceRef{
			Meta_:     raw.meta,
			Source:    raw.strFields["source"],
			Field:     raw.strFields["field"],
			Symbol:    raw.strFields["symbol"],
			Exchange:  raw.strFields["exchange"],
			Timeframe: raw.strFields["timeframe"],
		}
	case KindCall:
		return &Call{
			Meta_:  raw.meta,
			Name:   raw.strFields["name"],
			Args:   raw.args,
			Kwargs: raw.kwargs,
			Output: raw.strFields["output"],
		}
	case KindBinaryOp:
		return &BinaryOp{Meta_: raw.meta, Op: raw.strFields["op"], Left: raw.children["left"], Right: raw.children["right"]}
	case KindUnaryOp:
		return &UnaryOp{Meta_: raw.meta, Op: raw.strFields["op"], Operand: raw.children["operand"]}
	case KindFilter:
		return &Filter{Meta_: raw.meta, Series: raw.children["series"], Condition: raw.children["condition"]}
	case KindAggregate:
		return &Aggregate{Meta_: raw.meta, Series: raw.children["series"], Operation: raw.strFields["operation"], Field: raw.strFields["field"]}
	case KindTimeShift:
		return &TimeShift{Meta_: raw.meta, Series: raw.children["series"], Shift: raw.strFields["shift"], Operation: raw.strFields["operation"]}
	case KindMemberAccess:
		return &MemberAccess{Meta_: raw.meta, Target: raw.children["target"], Member: raw.strFields["member"]}
	case KindIndex:
		return &Index{Meta_: raw.meta, Target: raw.children["target"], Index: raw.index}
	default:
		if it.Error == nil {
			it.ReportError("decodeNode", fmt.Sprintf("unknown node type %q", raw.kind))
		}
		return nil
	}
}

func decodeKwarg(it *jsoniter.Iterator) Kwarg {
	var kw Kwarg
	for key := it.ReadObject(); key != ""; key = it.ReadObject() {
		switch key {
		case "name":
			kw.Name = it.ReadString()
		case "value":
			kw.Value = decodeNode(it)
		default:
			it.Skip()
		}
	}
	return kw
}

func decodeSeriesValue(it *jsoniter.Iterator) Value {
	s := &series.Series{}
	for key := it.ReadObject(); key != ""; key = it.ReadObject() {
		switch key {
		case "symbol":
			s.Symbol = it.ReadString()
		case "timeframe":
			s.Timeframe = it.ReadString()
		case "timestamps":
			for it.ReadArray() {
				s.Timestamps = append(s.Timestamps, it.ReadInt64())
			}
		case "values":
			for it.ReadArray() {
				s.Values = append(s.Values, it.ReadFloat64())
			}
		default:
			it.Skip()
		}
	}
	return SeriesVal(s)
}
