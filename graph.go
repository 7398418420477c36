package recon

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/deepnoodle-ai/recon/state"
)

// NodeID names a node in a graph.
type NodeID string

// Reserved node identifiers. They never name a registered node.
const (
	// Terminal marks the end of a traversal.
	Terminal NodeID = "__end__"
	// StartNode is recorded as the producer of a session's first checkpoint.
	StartNode NodeID = "__start__"
	// ResumeNode is recorded as the producer of the checkpoint that commits
	// an accepted resume.
	ResumeNode NodeID = "__resume__"
)

func (id NodeID) reserved() bool {
	return id == Terminal || id == StartNode || id == ResumeNode
}

// NodeFunc computes a state patch from the current state. Node functions
// must not retain state between invocations.
type NodeFunc func(ctx context.Context, s state.State) (state.Patch, error)

// Node is a named processing step.
type Node struct {
	ID          NodeID
	Description string
	Run         NodeFunc
}

// NewNode returns a Node for the given function.
func NewNode(id NodeID, fn NodeFunc) *Node {
	return &Node{ID: id, Run: fn}
}

// Edge selects the node that follows its source node. Targets lists every
// node the Route may return so the graph can be validated up front.
type Edge struct {
	Targets []NodeID
	Route   func(s state.State) NodeID
}

// Always returns an unconditional edge.
func Always(to NodeID) Edge {
	return Edge{
		Targets: []NodeID{to},
		Route:   func(state.State) NodeID { return to },
	}
}

// Branch returns a conditional edge.
func Branch(route func(s state.State) NodeID, targets ...NodeID) Edge {
	return Edge{Targets: targets, Route: route}
}

// GraphOptions are used to configure a graph.
type GraphOptions struct {
	Name  string
	Nodes []*Node
	Edges map[NodeID]Edge
	// Entry is the first node of a fresh session.
	Entry NodeID
	// Interrupt is the node whose body only runs after an external resume.
	Interrupt NodeID
	// Override optionally names a node that may replace the interrupt node
	// when a paused session is force-resolved.
	Override NodeID
}

// Graph is a validated set of nodes and the edge table between them.
type Graph struct {
	name      string
	nodes     map[NodeID]*Node
	edges     map[NodeID]Edge
	entry     NodeID
	interrupt NodeID
	override  NodeID
}

// NewGraph validates the options and returns a graph. Every node must have
// exactly one edge entry and every edge target must be a registered node or
// Terminal.
func NewGraph(opts GraphOptions) (*Graph, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("graph name required")
	}
	if len(opts.Nodes) == 0 {
		return nil, fmt.Errorf("nodes required")
	}

	nodes := make(map[NodeID]*Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node == nil || node.ID == "" {
			return nil, fmt.Errorf("node id required")
		}
		if node.ID.reserved() {
			return nil, fmt.Errorf("node id %q is reserved", node.ID)
		}
		if node.Run == nil {
			return nil, fmt.Errorf("node %q has no function", node.ID)
		}
		if _, exists := nodes[node.ID]; exists {
			return nil, fmt.Errorf("duplicate node %q", node.ID)
		}
		nodes[node.ID] = node
	}

	for id := range nodes {
		edge, ok := opts.Edges[id]
		if !ok {
			return nil, fmt.Errorf("node %q has no outgoing edge", id)
		}
		if edge.Route == nil || len(edge.Targets) == 0 {
			return nil, fmt.Errorf("edge from %q has no route", id)
		}
		for _, target := range edge.Targets {
			if target == Terminal {
				continue
			}
			if _, ok := nodes[target]; !ok {
				return nil, fmt.Errorf("edge from %q to unknown node %q", id, target)
			}
		}
	}
	for id := range opts.Edges {
		if _, ok := nodes[id]; !ok {
			return nil, fmt.Errorf("edge declared for unknown node %q", id)
		}
	}

	if _, ok := nodes[opts.Entry]; !ok {
		return nil, fmt.Errorf("entry node %q not found", opts.Entry)
	}
	if _, ok := nodes[opts.Interrupt]; !ok {
		return nil, fmt.Errorf("interrupt node %q not found", opts.Interrupt)
	}
	if opts.Override != "" {
		if _, ok := nodes[opts.Override]; !ok {
			return nil, fmt.Errorf("override node %q not found", opts.Override)
		}
		if opts.Override == opts.Interrupt {
			return nil, fmt.Errorf("override node must differ from the interrupt node")
		}
	}

	edges := make(map[NodeID]Edge, len(opts.Edges))
	for id, edge := range opts.Edges {
		edges[id] = Edge{Targets: slices.Clone(edge.Targets), Route: edge.Route}
	}
	return &Graph{
		name:      opts.Name,
		nodes:     nodes,
		edges:     edges,
		entry:     opts.Entry,
		interrupt: opts.Interrupt,
		override:  opts.Override,
	}, nil
}

// Name returns the graph name
func (g *Graph) Name() string {
	return g.name
}

// Entry returns the entry node
func (g *Graph) Entry() NodeID {
	return g.entry
}

// Interrupt returns the interrupt node
func (g *Graph) Interrupt() NodeID {
	return g.interrupt
}

// Override returns the override node, or an empty ID if none is configured
func (g *Graph) Override() NodeID {
	return g.override
}

// Node returns a node by ID
func (g *Graph) Node(id NodeID) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// NodeIDs returns the IDs of all nodes in the graph, sorted
func (g *Graph) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// route evaluates the outgoing edge of a node against post-merge state
func (g *Graph) route(from NodeID, s state.State) (NodeID, error) {
	edge := g.edges[from]
	next := edge.Route(s)
	if !slices.Contains(edge.Targets, next) {
		return "", fmt.Errorf("edge from %q routed to undeclared target %q", from, next)
	}
	return next, nil
}
