// Package slipgraph renders the path of a routing slip as a Graphviz DOT
// graph: the activities that ran, where it faulted, what was discarded and the
// order in which compensation unwound the log.
package slipgraph

import (
	"fmt"
	"strings"

	"github.com/fortressi/routingslip"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// Graph is a routing slip trace.
type Graph struct {
	*simple.DirectedGraph
	name  string
	attrs encoding.Attributes
	nodes encoding.Attributes
	edges encoding.Attributes
}

// Node is an activity, or the start or end of the slip.
type Node struct {
	graph.Node
	dotID string
	attrs encoding.Attributes
}

func (n *Node) DOTID() string { return n.dotID }

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// Edge is a forward step or a compensation step.
type Edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *Edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *Edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}

func newGraph(name string) *Graph {
	g := &Graph{DirectedGraph: simple.NewDirectedGraph(), name: name}
	g.attrs.SetAttribute(encoding.Attribute{Key: "rankdir", Value: "LR"})
	g.nodes.SetAttribute(encoding.Attribute{Key: "shape", Value: "box"})
	g.nodes.SetAttribute(encoding.Attribute{Key: "fontname", Value: "Helvetica"})
	g.edges.SetAttribute(encoding.Attribute{Key: "fontname", Value: "Helvetica"})
	return g
}

// DOTAttributers implements dot.Attributers.
func (g *Graph) DOTAttributers() (graphAttrs, nodeAttrs, edgeAttrs encoding.Attributer) {
	return &g.attrs, &g.nodes, &g.edges
}

func (g *Graph) addNode(id string, attrs ...encoding.Attribute) *Node {
	n := &Node{Node: g.DirectedGraph.NewNode(), dotID: id}
	for _, a := range attrs {
		n.SetAttribute(a)
	}
	g.AddNode(n)
	return n
}

func (g *Graph) addEdge(from, to *Node, attrs ...encoding.Attribute) {
	e := &Edge{Edge: g.DirectedGraph.NewEdge(from, to)}
	for _, a := range attrs {
		e.SetAttribute(a)
	}
	g.SetEdge(e)
}

// Marshal returns the DOT encoding of the graph.
func (g *Graph) Marshal() ([]byte, error) {
	data, err := dot.Marshal(g, g.name, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export routing slip to DOT format: %w", err)
	}
	return data, nil
}

func attr(key, value string) encoding.Attribute {
	return encoding.Attribute{Key: key, Value: value}
}

func label(lines ...string) encoding.Attribute {
	return attr("label", `"`+strings.Join(lines, `\n`)+`"`)
}

var entryColors = map[routingslip.EntryStatus]string{
	routingslip.EntryCompleted:          "darkgreen",
	routingslip.EntryCompensating:       "orange",
	routingslip.EntryCompensated:        "gray40",
	routingslip.EntryCompensationFailed: "red",
}

// New builds the trace of a saved slip.
//
// Completed activities are chained from "start" in log order. A faulted slip
// continues to the faulted activity and the rest of the discarded itinerary;
// dashed edges then lead back through every compensated activity in the order
// compensation ran. Activities still to run are drawn dotted.
func New(state routingslip.SlipState) *Graph {
	g := newGraph("routing_slip")

	start := g.addNode("start", attr("shape", "circle"), label("start"))
	end := g.addNode("end", attr("shape", "doublecircle"), label(state.Status.String()))

	prev := start
	entries := make([]*Node, len(state.Log))
	var execution routingslip.ExecutionID
	for i, entry := range state.Log {
		n := g.addNode(fmt.Sprintf("n%03d_%s", entry.Sequence, entry.Activity.Name),
			label(string(entry.Activity.Name), entry.Status.String()),
			attr("color", entryColors[entry.Status]),
			attr("tooltip", `"execution `+entry.ExecutionID.String()+`"`),
		)
		edgeAttrs := []encoding.Attribute{attr("color", "darkgreen")}
		if i > 0 && entry.ExecutionID != execution {
			edgeAttrs = append(edgeAttrs, label("revised"))
		}
		g.addEdge(prev, n, edgeAttrs...)
		execution = entry.ExecutionID
		entries[i] = n
		prev = n
	}

	switch {
	case state.Fault != nil:
		faulted := prev
		rest := state.Discarded
		if len(rest) > 0 && rest[0].Name == state.Fault.Activity.Name {
			faulted = g.addNode("faulted_"+string(state.Fault.Activity.Name),
				attr("shape", "octagon"),
				attr("color", "red"),
				label(string(state.Fault.Activity.Name), state.Fault.Kind.String()+" fault"),
				attr("tooltip", fmt.Sprintf("%q", state.Fault.Reason)),
			)
			g.addEdge(prev, faulted, attr("color", "red"))
			rest = rest[1:]
		}

		skipped := faulted
		for i, spec := range rest {
			n := g.addNode(fmt.Sprintf("discarded%03d_%s", i, spec.Name),
				attr("style", "dashed"), attr("color", "gray60"), label(string(spec.Name), "discarded"))
			g.addEdge(skipped, n, attr("style", "dashed"), attr("color", "gray60"))
			skipped = n
		}

		// Compensation unwinds from the fault back through the log.
		from := faulted
		for i := len(entries) - 1; i >= 0; i-- {
			status := state.Log[i].Status
			if status == routingslip.EntryCompleted {
				break
			}
			if entries[i] != from {
				g.addEdge(from, entries[i], attr("style", "dashed"), attr("color", "blue"), label("compensate"))
			}
			from = entries[i]
			if status != routingslip.EntryCompensated {
				break
			}
		}
		if state.Status.Terminal() {
			g.addEdge(from, end, attr("style", "dashed"), attr("color", "blue"))
		}

	default:
		for i, spec := range state.Itinerary {
			n := g.addNode(fmt.Sprintf("pending%03d_%s", i, spec.Name),
				attr("style", "dotted"), label(string(spec.Name), "pending"))
			g.addEdge(prev, n, attr("style", "dotted"))
			prev = n
		}
		g.addEdge(prev, end)
	}
	return g
}

// Marshal renders state as DOT.
func Marshal(state routingslip.SlipState) ([]byte, error) {
	return New(state).Marshal()
}
