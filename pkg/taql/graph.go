package taql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/laakhay/ta-go/pkg/taql/ir"
)

// NodeID is a dense integer id inside one graph.
type NodeID uint32

// GraphNode is one deduplicated node of the evaluation DAG.
type GraphNode struct {
	ID        NodeID
	Node      ir.Node
	Children  []NodeID
	Signature string
	// Hash is a content hash of the signature, stable across runs; cache
	// keys build on it.
	Hash uint64
}

// Graph is the deduplicated DAG form of an expression tree. Two
// sub-expressions with identical structural signatures share a node id.
type Graph struct {
	RootID NodeID
	Nodes  map[NodeID]*GraphNode
	// Hash derives from the root signature and identifies the whole graph.
	Hash uint64
}

type graphBuilder struct {
	nodes  map[NodeID]*GraphNode
	bySig  map[string]NodeID
	nextID NodeID
	// seriesSalt makes every literal-series signature unique; such nodes
	// are never deduplicated.
	seriesSalt uint64
}

// BuildGraph converts a canonical IR tree into a deduplicated graph via
// structural hashing.
func BuildGraph(root ir.Node) (*Graph, error) {
	b := &graphBuilder{
		nodes: map[NodeID]*GraphNode{},
		bySig: map[string]NodeID{},
	}
	rootID, err := b.visit(root)
	if err != nil {
		return nil, err
	}
	return &Graph{
		RootID: rootID,
		Nodes:  b.nodes,
		Hash:   b.nodes[rootID].Hash,
	}, nil
}

func (b *graphBuilder) visit(n ir.Node) (NodeID, error) {
	children := graphChildren(n)
	childIDs := make([]NodeID, len(children))
	childSigs := make([]string, len(children))
	for i, c := range children {
		id, err := b.visit(c)
		if err != nil {
			return 0, err
		}
		childIDs[i] = id
		childSigs[i] = b.nodes[id].Signature
	}

	sig, dedupable, err := b.signature(n, childSigs)
	if err != nil {
		return 0, err
	}
	if dedupable {
		if id, ok := b.bySig[sig]; ok {
			return id, nil
		}
	}

	id := b.nextID
	b.nextID++
	b.nodes[id] = &GraphNode{
		ID:        id,
		Node:      n,
		Children:  childIDs,
		Signature: sig,
		Hash:      xxhash.Sum64String(sig),
	}
	if dedupable {
		b.bySig[sig] = id
	}
	return id, nil
}

// signature builds the deterministic structural key
// (kind, static fields, children signatures). Literal-series nodes get a
// per-allocation salt and report themselves non-dedupable.
func (b *graphBuilder) signature(n ir.Node, childSigs []string) (sig string, dedupable bool, err error) {
	var sb strings.Builder
	sb.WriteString(string(n.Kind()))
	sb.WriteByte('{')
	dedupable = true

	switch e := n.(type) {
	case *ir.Literal:
		if e.Value.Kind == ir.ValueSeries {
			b.seriesSalt++
			fmt.Fprintf(&sb, "series#%d", b.seriesSalt)
			dedupable = false
		} else {
			sb.WriteString(e.Value.String())
		}
	case *ir.SourceRef:
		sb.WriteString(strings.Join([]string{e.Source, e.Field, e.Symbol, e.Exchange, e.Timeframe}, ","))
	case *ir.Call:
		sb.WriteString(e.Name)
		sb.WriteByte(',')
		sb.WriteString(e.Output)
		for i, a := range e.Args {
			if isScalarLiteral(a) {
				fmt.Fprintf(&sb, ",arg_%d=%s", i, a.(*ir.Literal).Value.String())
			} else {
				fmt.Fprintf(&sb, ",arg_%d=@", i)
			}
		}
		for _, kw := range e.Kwargs {
			if isScalarLiteral(kw.Value) {
				fmt.Fprintf(&sb, ",kw_%s=%s", kw.Name, kw.Value.(*ir.Literal).Value.String())
			} else {
				fmt.Fprintf(&sb, ",kw_%s=@", kw.Name)
			}
		}
	case *ir.BinaryOp:
		sb.WriteString(e.Op)
	case *ir.UnaryOp:
		sb.WriteString(e.Op)
	case *ir.Filter:
		// no static fields
	case *ir.Aggregate:
		sb.WriteString(e.Operation)
		sb.WriteByte(',')
		sb.WriteString(e.Field)
	case *ir.TimeShift:
		sb.WriteString(e.Shift)
		sb.WriteByte(',')
		sb.WriteString(e.Operation)
	case *ir.MemberAccess:
		sb.WriteString(e.Member)
	case *ir.Index:
		sb.WriteString(strconv.Itoa(e.Index))
	default:
		return "", false, newEvaluationError(0, "unsupported node kind %q", n.Kind())
	}

	sb.WriteByte('}')
	sb.WriteByte('[')
	sb.WriteString(strings.Join(childSigs, ","))
	sb.WriteByte(']')
	return sb.String(), dedupable, nil
}

// graphChildren lists the children that become graph nodes. Scalar literal
// arguments of a call are static configuration, not dataflow: they are
// folded into the call's signature instead of allocating nodes, so two
// occurrences of sma(close, 20) collapse to one call node with one source
// child. Series-literal arguments remain dataflow children.
func graphChildren(n ir.Node) []ir.Node {
	call, ok := n.(*ir.Call)
	if !ok {
		return n.Children()
	}
	var out []ir.Node
	for _, a := range call.Args {
		if !isScalarLiteral(a) {
			out = append(out, a)
		}
	}
	for _, kw := range call.Kwargs {
		if !isScalarLiteral(kw.Value) {
			out = append(out, kw.Value)
		}
	}
	return out
}

func isScalarLiteral(n ir.Node) bool {
	lit, ok := n.(*ir.Literal)
	return ok && lit.Value.Kind != ir.ValueSeries
}
