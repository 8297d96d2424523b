// Package graph holds the in-memory flow graph and its bounded upstream walk.
package graph

import "github.com/hydrostat/basinflow/services/api/db"

// Graph is an adjacency view over basin flow relations. Nodes are referenced
// by dense indices into the arena; incoming[i] lists the nodes flowing into
// node i.
type Graph struct {
	index    map[int64]int
	nodes    []int64
	incoming [][]int
}

// Build constructs the adjacency arena from upstream_to_downstream edges.
// Edge endpoints that never appear elsewhere still get a node entry, so a
// relation pointing at an otherwise unknown basin is harmless.
func Build(edges []db.FlowEdge) *Graph {
	g := &Graph{index: make(map[int64]int)}

	intern := func(id int64) int {
		if i, ok := g.index[id]; ok {
			return i
		}
		i := len(g.nodes)
		g.index[id] = i
		g.nodes = append(g.nodes, id)
		g.incoming = append(g.incoming, nil)
		return i
	}

	for _, e := range edges {
		from := intern(e.FromID)
		to := intern(e.ToID)
		g.incoming[to] = append(g.incoming[to], from)
	}
	return g
}

// Len returns the number of distinct nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Upstream returns the internal ids of basins reachable by following flow
// edges backward from root within maxDepth hops, excluding root itself.
// The walk is breadth-first; the visited set is seeded with the root, so
// cycles terminate and no node is expanded twice. The depth bound is a
// numeric comparison: maxDepth 0 means no traversal at all.
func (g *Graph) Upstream(root int64, maxDepth int) []int64 {
	start, ok := g.index[root]
	if !ok || maxDepth <= 0 {
		return nil
	}

	type item struct {
		node  int
		depth int
	}

	visited := make([]bool, len(g.nodes))
	visited[start] = true

	queue := []item{{node: start, depth: 0}}
	result := make([]int64, 0)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= 1 {
			result = append(result, g.nodes[cur.node])
		}
		if cur.depth >= maxDepth {
			continue
		}
		for _, from := range g.incoming[cur.node] {
			if !visited[from] {
				visited[from] = true
				queue = append(queue, item{node: from, depth: cur.depth + 1})
			}
		}
	}
	return result
}
