package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hydrostat/basinflow/services/api/db"
)

func edges(pairs ...[2]int64) []db.FlowEdge {
	out := make([]db.FlowEdge, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, db.FlowEdge{FromID: p[0], ToID: p[1]})
	}
	return out
}

func TestUpstreamSingleHop(t *testing.T) {
	g := Build(edges([2]int64{1, 2}))

	assert.Equal(t, []int64{1}, g.Upstream(2, 1))
}

func TestUpstreamExcludesRoot(t *testing.T) {
	g := Build(edges([2]int64{1, 2}, [2]int64{2, 3}))

	assert.NotContains(t, g.Upstream(3, 5), int64(3))
}

func TestUpstreamDepthZeroIsEmpty(t *testing.T) {
	g := Build(edges([2]int64{1, 2}, [2]int64{2, 3}))

	assert.Empty(t, g.Upstream(3, 0))
}

func TestUpstreamDepthBound(t *testing.T) {
	// chain 1 -> 2 -> 3 -> 4
	g := Build(edges([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 4}))

	assert.ElementsMatch(t, []int64{3}, g.Upstream(4, 1))
	assert.ElementsMatch(t, []int64{3, 2}, g.Upstream(4, 2))
	assert.ElementsMatch(t, []int64{3, 2, 1}, g.Upstream(4, 3))
	assert.ElementsMatch(t, []int64{3, 2, 1}, g.Upstream(4, 10))
}

func TestUpstreamCycleTerminates(t *testing.T) {
	// 1 -> 2 -> 3 -> 1 plus 3 as root
	g := Build(edges([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 1}))

	got := g.Upstream(3, 100)
	assert.ElementsMatch(t, []int64{1, 2}, got)
}

func TestUpstreamSelfLoop(t *testing.T) {
	g := Build(edges([2]int64{1, 1}, [2]int64{2, 1}))

	assert.ElementsMatch(t, []int64{2}, g.Upstream(1, 4))
}

func TestUpstreamDiamondVisitsOnce(t *testing.T) {
	// 1 -> 2 -> 4 and 1 -> 3 -> 4: node 1 is reachable twice.
	g := Build(edges([2]int64{1, 2}, [2]int64{1, 3}, [2]int64{2, 4}, [2]int64{3, 4}))

	got := g.Upstream(4, 2)
	assert.ElementsMatch(t, []int64{1, 2, 3}, got)
}

func TestUpstreamUnknownRoot(t *testing.T) {
	g := Build(edges([2]int64{1, 2}))

	assert.Empty(t, g.Upstream(99, 3))
}

func TestBuildInternsDanglingEndpoints(t *testing.T) {
	g := Build(edges([2]int64{7, 8}))

	assert.Equal(t, 2, g.Len())
	assert.ElementsMatch(t, []int64{7}, g.Upstream(8, 1))
	assert.Empty(t, g.Upstream(7, 1))
}
