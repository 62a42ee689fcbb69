// Package opgraph builds and orders the request-scoped dependency graphs the
// scheduler works on.
//
// A Graph is an arena: operations live in a node table and edges are stored as
// index-based adjacency lists, so no node holds a reference to another. Graphs
// are built from a Source (usually a storage transaction), consumed by a
// single request and then discarded.
//
// Two directions are built:
//   - dependency graph: an edge points from an operation to each of its direct
//     dependencies (BuildDependencyGraph)
//   - dependent graph: an edge points from an operation to each operation that
//     lists it as a dependency (BuildDependentGraph)
package opgraph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/edgefleet/c2d/internal/types"
)

var (
	// ErrCycle is returned by TopologicalSort when the graph is not acyclic.
	ErrCycle = errors.New("dependency cycle detected")
	// ErrSelfLoop is returned by TopologicalSort when a node has an edge to itself.
	ErrSelfLoop = errors.New("dependency self-loop detected")
	// ErrDanglingDependency is returned when a dependency id no longer resolves
	// to a stored operation.
	ErrDanglingDependency = errors.New("dependency does not exist")
	// ErrIncomparable is returned when two distinct operations cannot be put in
	// a total order.
	ErrIncomparable = errors.New("operations cannot be ordered")
	// ErrGraphTooLarge is returned when a build exceeds its node cap.
	ErrGraphTooLarge = errors.New("dependency graph exceeds node limit")
)

// IsInvariantViolation reports whether err signals corrupted data or a broken
// upstream invariant rather than a bad request.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrSelfLoop) ||
		errors.Is(err, ErrDanglingDependency) ||
		errors.Is(err, ErrIncomparable)
}

type edge struct {
	from, to int
}

// Graph is a directed graph of operations keyed by operation id.
type Graph struct {
	nodes []*types.Operation
	index map[string]int
	succ  [][]int
	pred  [][]int
	edges map[edge]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		edges: make(map[edge]struct{}),
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// AddNode adds op if no node with its id exists yet and returns the node index.
// The first operation added for an id wins.
func (g *Graph) AddNode(op *types.Operation) int {
	if i, ok := g.index[op.ID]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, op)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	g.index[op.ID] = i
	return i
}

// AddEdge adds a directed edge from -> to, adding either node if needed.
// Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to *types.Operation) {
	f := g.AddNode(from)
	t := g.AddNode(to)
	e := edge{from: f, to: t}
	if _, ok := g.edges[e]; ok {
		return
	}
	g.edges[e] = struct{}{}
	g.succ[f] = append(g.succ[f], t)
	g.pred[t] = append(g.pred[t], f)
}

// Lookup returns the operation stored for id.
func (g *Graph) Lookup(id string) (*types.Operation, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Contains reports whether a node with the given id exists.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// HasEdge reports whether the edge fromID -> toID exists.
func (g *Graph) HasEdge(fromID, toID string) bool {
	f, ok := g.index[fromID]
	if !ok {
		return false
	}
	t, ok := g.index[toID]
	if !ok {
		return false
	}
	_, ok = g.edges[edge{from: f, to: t}]
	return ok
}

// Operations returns the nodes in insertion order.
func (g *Graph) Operations() []*types.Operation {
	return slices.Clone(g.nodes)
}

// Successors returns the ids of the direct successors of id.
func (g *Graph) Successors(id string) []string {
	return g.neighborIDs(id, g.succ)
}

// Predecessors returns the ids of the direct predecessors of id.
func (g *Graph) Predecessors(id string) []string {
	return g.neighborIDs(id, g.pred)
}

func (g *Graph) neighborIDs(id string, adj [][]int) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(adj[i]))
	for _, n := range adj[i] {
		ids = append(ids, g.nodes[n].ID)
	}
	slices.Sort(ids)
	return ids
}

// order returns every node index sorted ascending by Compare.
func (g *Graph) order() ([]int, error) {
	idx := make([]int, len(g.nodes))
	for i := range idx {
		idx[i] = i
	}
	var cmpErr error
	slices.SortFunc(idx, func(a, b int) int {
		c, err := Compare(g.nodes[a], g.nodes[b])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	return idx, nil
}

// Ordered returns the operations in the graph's total node order.
func (g *Graph) Ordered() ([]*types.Operation, error) {
	idx, err := g.order()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Operation, len(idx))
	for k, i := range idx {
		out[k] = g.nodes[i]
	}
	return out, nil
}

func (g *Graph) describe(i int) string {
	return fmt.Sprintf("%s (created %d)", g.nodes[i].ID, g.nodes[i].Created)
}
