package opgraph

import (
	"fmt"
	"slices"

	"github.com/edgefleet/c2d/internal/types"
)

// TopologicalSort orders every node of g so edges are respected.
//
// With reverse=false, for every edge A->B, A precedes B. With reverse=true,
// B precedes A; on a dependency graph that puts dependencies first.
//
// The order is a DFS finish order over the reverse of the total node order
// (Compare), visiting neighbors in that same reversed order, so identical
// graphs always sort identically. A self-loop or a cycle is an error.
func TopologicalSort(g *Graph, reverse bool) ([]*types.Operation, error) {
	for i, out := range g.succ {
		if slices.Contains(out, i) {
			return nil, fmt.Errorf("%w: %s", ErrSelfLoop, g.describe(i))
		}
	}

	order, err := g.order()
	if err != nil {
		return nil, err
	}
	rank := make([]int, len(order))
	for pos, i := range order {
		rank[i] = pos
	}

	adj := g.succ
	if reverse {
		adj = g.pred
	}
	neighbors := func(i int) []int {
		out := slices.Clone(adj[i])
		slices.SortFunc(out, func(a, b int) int {
			return rank[b] - rank[a]
		})
		return out
	}

	type frame struct {
		node int
		next []int
	}

	visited := make([]bool, len(g.nodes))
	onPath := make([]bool, len(g.nodes))
	finished := make([]int, 0, len(g.nodes))

	for k := len(order) - 1; k >= 0; k-- {
		start := order[k]
		if visited[start] {
			continue
		}
		visited[start] = true
		onPath[start] = true
		stack := []frame{{node: start, next: neighbors(start)}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.next) == 0 {
				onPath[top.node] = false
				finished = append(finished, top.node)
				stack = stack[:len(stack)-1]
				continue
			}
			n := top.next[0]
			top.next = top.next[1:]
			if onPath[n] {
				return nil, fmt.Errorf("%w: %s -> %s", ErrCycle, g.describe(top.node), g.describe(n))
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			onPath[n] = true
			stack = append(stack, frame{node: n, next: neighbors(n)})
		}
	}

	// Each finished node belongs in front of everything finished before it.
	result := make([]*types.Operation, len(finished))
	for k, i := range finished {
		result[len(finished)-1-k] = g.nodes[i]
	}
	return result, nil
}
