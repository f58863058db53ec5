// Package graph holds the page dependency graph: an arena of network and CPU nodes with
// index-based predecessor and dependent sets.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pb33f/lantern/motor"
)

// ErrGraphIntegrity is matched by every IntegrityError.
var ErrGraphIntegrity = errors.New("dependency graph integrity violated")

// IntegrityError describes why a set of nodes and edges does not form a rooted DAG.
type IntegrityError struct {
	Reason string
	Nodes  []NodeID
}

func (e *IntegrityError) Error() string {
	if len(e.Nodes) == 0 {
		return fmt.Sprintf("invalid dependency graph: %s", e.Reason)
	}
	ids := make([]string, 0, len(e.Nodes))
	for i, id := range e.Nodes {
		if i == 8 {
			ids = append(ids, fmt.Sprintf("... (%d more)", len(e.Nodes)-i))
			break
		}
		ids = append(ids, string(id))
	}
	return fmt.Sprintf("invalid dependency graph: %s: %s", e.Reason, strings.Join(ids, ", "))
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrGraphIntegrity
}

type idSet map[NodeID]struct{}

// Graph is an immutable rooted DAG. every node except the root has at least one predecessor
// and is reachable from the root.
type Graph struct {
	nodes map[NodeID]Node
	order []NodeID
	index map[NodeID]int
	preds map[NodeID]idSet
	deps  map[NodeID]idSet
	root  NodeID

	fingerprint string
}

// Root returns the navigation node every other node descends from.
func (g *Graph) Root() Node {
	return g.nodes[g.root]
}

// Node returns the node with id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns every node in observed order: by start time, ties in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Index returns the observed-order position of id, or -1.
func (g *Graph) Index(id NodeID) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Predecessors returns the ids id depends on, in observed order.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	return g.sorted(g.preds[id])
}

// Dependents returns the ids that depend on id, in observed order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	return g.sorted(g.deps[id])
}

func (g *Graph) sorted(set idSet) []NodeID {
	out := make([]NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.index[out[i]] < g.index[out[j]]
	})
	return out
}

// HasEdge reports whether to depends directly on from.
func (g *Graph) HasEdge(from, to NodeID) bool {
	_, ok := g.preds[to][from]
	return ok
}

// TopologicalOrder returns every node id so that each appears after all its predecessors.
// ties resolve in observed order, so the result is deterministic.
func (g *Graph) TopologicalOrder() []NodeID {
	order, _ := topological(g.order, g.index, g.preds, g.deps)
	return order
}

// Fingerprint identifies the graph's structure and node timings.
func (g *Graph) Fingerprint() string {
	return g.fingerprint
}

// Filter returns the subgraph of the nodes keep accepts plus every ancestor of those nodes
// and the root. node ids are preserved.
func (g *Graph) Filter(keep func(Node) bool) (*Graph, error) {
	kept := make(idSet)
	var visit func(id NodeID)
	visit = func(id NodeID) {
		if _, ok := kept[id]; ok {
			return
		}
		kept[id] = struct{}{}
		for p := range g.preds[id] {
			visit(p)
		}
	}

	visit(g.root)
	for _, id := range g.order {
		if keep(g.nodes[id]) {
			visit(id)
		}
	}

	b := NewBuilder()
	for _, id := range g.order {
		if _, ok := kept[id]; ok {
			if err := b.AddNode(g.nodes[id]); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range g.order {
		if _, ok := kept[id]; !ok {
			continue
		}
		for p := range g.preds[id] {
			if err := b.AddEdge(p, id); err != nil {
				return nil, err
			}
		}
	}
	return b.Build(g.root)
}

// Builder accumulates nodes and edges and validates them into a Graph.
type Builder struct {
	nodes map[NodeID]Node
	added []NodeID
	preds map[NodeID]idSet
	deps  map[NodeID]idSet
}

func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[NodeID]Node),
		preds: make(map[NodeID]idSet),
		deps:  make(map[NodeID]idSet),
	}
}

// AddNode registers n. ids must be unique.
func (b *Builder) AddNode(n Node) error {
	if _, exists := b.nodes[n.ID()]; exists {
		return &IntegrityError{Reason: "duplicate node", Nodes: []NodeID{n.ID()}}
	}
	b.nodes[n.ID()] = n
	b.added = append(b.added, n.ID())
	b.preds[n.ID()] = make(idSet)
	b.deps[n.ID()] = make(idSet)
	return nil
}

// AddEdge records that to depends on from. repeated edges are ignored.
func (b *Builder) AddEdge(from, to NodeID) error {
	if _, ok := b.nodes[from]; !ok {
		return &IntegrityError{Reason: "edge from unknown node", Nodes: []NodeID{from}}
	}
	if _, ok := b.nodes[to]; !ok {
		return &IntegrityError{Reason: "edge to unknown node", Nodes: []NodeID{to}}
	}
	if from == to {
		return &IntegrityError{Reason: "node depends on itself", Nodes: []NodeID{from}}
	}
	b.preds[to][from] = struct{}{}
	b.deps[from][to] = struct{}{}
	return nil
}

// Build validates the graph rooted at root: the root has no predecessors, every other node
// has at least one, and there is no cycle. together these make every node reachable from
// the root.
func (b *Builder) Build(root NodeID) (*Graph, error) {
	if _, ok := b.nodes[root]; !ok {
		return nil, &IntegrityError{Reason: "root is not a node", Nodes: []NodeID{root}}
	}
	if len(b.preds[root]) > 0 {
		return nil, &IntegrityError{Reason: "root has predecessors", Nodes: []NodeID{root}}
	}

	order := append([]NodeID(nil), b.added...)
	sort.SliceStable(order, func(i, j int) bool {
		// the root leads regardless of recorded times
		if order[i] == root || order[j] == root {
			return order[i] == root && order[j] != root
		}
		return b.nodes[order[i]].StartTime() < b.nodes[order[j]].StartTime()
	})
	index := make(map[NodeID]int, len(order))
	for i, id := range order {
		index[id] = i
	}

	var orphans []NodeID
	for _, id := range order {
		if id != root && len(b.preds[id]) == 0 {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		return nil, &IntegrityError{Reason: "nodes unreachable from root", Nodes: orphans}
	}

	if _, cyclic := topological(order, index, b.preds, b.deps); len(cyclic) > 0 {
		return nil, &IntegrityError{Reason: "dependency cycle", Nodes: cyclic}
	}

	g := &Graph{
		nodes: b.nodes,
		order: order,
		index: index,
		preds: b.preds,
		deps:  b.deps,
		root:  root,
	}
	g.fingerprint = fingerprint(g)

	// the builder must not mutate a graph it handed out
	b.nodes = make(map[NodeID]Node)
	b.added = nil
	b.preds = make(map[NodeID]idSet)
	b.deps = make(map[NodeID]idSet)
	return g, nil
}

// topological runs Kahn's algorithm picking the lowest observed index first. it returns the
// order and the ids left over by a cycle.
func topological(order []NodeID, index map[NodeID]int, preds, deps map[NodeID]idSet) ([]NodeID, []NodeID) {
	remaining := make(map[NodeID]int, len(order))
	ready := &indexHeap{index: index}
	for _, id := range order {
		remaining[id] = len(preds[id])
		if remaining[id] == 0 {
			ready.push(id)
		}
	}

	out := make([]NodeID, 0, len(order))
	for ready.Len() > 0 {
		id := ready.pop()
		out = append(out, id)
		for d := range deps[id] {
			remaining[d]--
			if remaining[d] == 0 {
				ready.push(d)
			}
		}
	}

	if len(out) == len(order) {
		return out, nil
	}
	var cyclic []NodeID
	for _, id := range order {
		if remaining[id] > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return out, cyclic
}

func fingerprint(g *Graph) string {
	f := motor.NewFingerprinter()
	f.String(string(g.root)).Int(int64(len(g.order)))
	for _, id := range g.order {
		n := g.nodes[id]
		f.String(string(id)).String(string(n.Type())).Float(n.StartTime()).Float(n.EndTime())
		switch node := n.(type) {
		case *NetworkNode:
			motor.WriteRecord(f, node.Record)
		case *CPUNode:
			f.Int(int64(len(node.Tasks)))
		}
		preds := g.Predecessors(id)
		f.Int(int64(len(preds)))
		for _, p := range preds {
			f.String(string(p))
		}
	}
	return f.Sum()
}
