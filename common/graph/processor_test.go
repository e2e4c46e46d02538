package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/common/models"
)

func nodeList(ids ...string) []models.Node {
	nodes := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, models.Node{ID: id, Type: "transform", Name: id})
	}
	return nodes
}

func TestProcess_Linear(t *testing.T) {
	pw, err := Process(nodeList("a", "b", "c"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "c"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, pw.Entry)
	assert.Equal(t, []string{"c"}, pw.Exit)
	assert.Empty(t, pw.BranchPoints)
	assert.Empty(t, pw.ConvergencePoints)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, pw.ParallelGroups)
	assert.Equal(t, []string{"a", "b", "c"}, pw.TopoOrder)
}

func TestProcess_Diamond(t *testing.T) {
	pw, err := Process(nodeList("a", "b", "c", "d"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "c"},
		{Source: "b", Target: "d"},
		{Source: "c", Target: "d"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, pw.Entry)
	assert.Equal(t, []string{"d"}, pw.Exit)
	assert.Equal(t, []string{"a"}, pw.BranchPoints)
	assert.ElementsMatch(t, []string{"b", "c"}, pw.ConvergencePoints["d"])
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, pw.ParallelGroups)
}

func TestProcess_SingleNode(t *testing.T) {
	pw, err := Process(nodeList("only"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, pw.Entry)
	assert.Equal(t, []string{"only"}, pw.Exit)
	assert.Equal(t, []string{"only"}, pw.TopoOrder)
}

// The topological order must be a linear extension of the adjacency relation.
func TestProcess_TopoOrderLinearExtension(t *testing.T) {
	edges := []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "c"},
		{Source: "c", Target: "e"},
		{Source: "b", Target: "d"},
		{Source: "d", Target: "f"},
		{Source: "e", Target: "f"},
	}
	pw, err := Process(nodeList("a", "b", "c", "d", "e", "f"), edges)
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, id := range pw.TopoOrder {
		pos[id] = i
	}
	for src, succs := range pw.Adjacency {
		for _, dst := range succs {
			assert.Less(t, pos[src], pos[dst], "%s must precede %s", src, dst)
		}
	}
}

func TestProcess_DuplicateEdgesDeduped(t *testing.T) {
	pw, err := Process(nodeList("a", "b"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, pw.Adjacency["a"])
}

func TestProcess_UnknownNode(t *testing.T) {
	_, err := Process(nodeList("a"), []models.Edge{{Source: "a", Target: "ghost"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrUnknownNode, verr.Code)
	assert.Equal(t, []string{"ghost"}, verr.Nodes)
}

func TestProcess_SelfEdge(t *testing.T) {
	_, err := Process(nodeList("a", "b"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "b"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrSelfEdge, verr.Code)
}

func TestProcess_Cycle(t *testing.T) {
	_, err := Process(nodeList("a", "b", "c", "d"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "c"},
		{Source: "c", Target: "b"},
		{Source: "c", Target: "d"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCycle, verr.Code)
	assert.ElementsMatch(t, []string{"b", "c"}, verr.Nodes)
}

func TestProcess_FullCycleHasNoEntry(t *testing.T) {
	_, err := Process(nodeList("a", "b"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "a"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	// Every node has a predecessor, so the entry invariant trips first.
	assert.Equal(t, ErrNoEntry, verr.Code)
}

func TestProcess_CyclicIslandRejected(t *testing.T) {
	// A disconnected component whose nodes all sit on a cycle can never be
	// reached from an entry; the cycle invariant trips first.
	_, err := Process(nodeList("a", "b", "c", "d"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "c", Target: "d"},
		{Source: "d", Target: "c"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCycle, verr.Code)
}

func TestProcess_InteriorNodeStaysReachable(t *testing.T) {
	pw, err := Process(nodeList("a", "b", "stray"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "stray"},
		{Source: "stray", Target: "b"},
	})
	require.NoError(t, err)
	assert.Contains(t, pw.TopoOrder, "stray")
}

func TestProcess_DepthRanksBranchTargets(t *testing.T) {
	pw, err := Process(nodeList("a", "b", "c", "d"), []models.Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "c"},
		{Source: "a", Target: "d"},
		{Source: "c", Target: "d"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, pw.Depth["a"])
	assert.Equal(t, 1, pw.Depth["b"])
	assert.Equal(t, 2, pw.Depth["c"])
	// depth is the max over predecessors + 1
	assert.Equal(t, 3, pw.Depth["d"])
}

func TestProcess_DuplicateNodeID(t *testing.T) {
	nodes := []models.Node{
		{ID: "a", Type: "http", Name: "first"},
		{ID: "a", Type: "http", Name: "second"},
	}
	_, err := Process(nodes, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrDuplicateID, verr.Code)
}

func TestProcess_EdgeAccessors(t *testing.T) {
	edges := []models.Edge{
		{Source: "a", Target: "b", Condition: "output.v > 0"},
		{Source: "a", Target: "c"},
	}
	pw, err := Process(nodeList("a", "b", "c"), edges)
	require.NoError(t, err)

	out := pw.EdgesFrom("a")
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Target)
	assert.Equal(t, "output.v > 0", out[0].Condition)

	in := pw.EdgesInto("c")
	require.Len(t, in, 1)
	assert.Equal(t, "a", in[0].Source)
}
