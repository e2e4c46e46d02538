package graph

import (
	"fmt"
	"sort"

	"github.com/flowgrid/flowgrid/common/models"
)

// Validation failure codes, reported with the first violated invariant.
const (
	ErrUnknownNode = "unknown_node"
	ErrSelfEdge    = "self_edge"
	ErrNoEntry     = "no_entry"
	ErrNoExit      = "no_exit"
	ErrCycle       = "cycle"
	ErrUnreachable = "unreachable"
	ErrDuplicateID = "duplicate_node_id"
)

// ValidationError carries the violated invariant and the offending nodes.
type ValidationError struct {
	Code  string
	Nodes []string
	msg   string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func newValidationError(code, format string, nodes []string, args ...interface{}) *ValidationError {
	sort.Strings(nodes)
	return &ValidationError{
		Code:  code,
		Nodes: nodes,
		msg:   fmt.Sprintf(format, args...),
	}
}

// ProcessedWorkflow is the derived, immutable DAG metadata consumed by the
// execution engine. All maps are keyed by node id. Successor iteration
// order preserves edge declaration order.
type ProcessedWorkflow struct {
	Nodes             map[string]*models.Node
	Edges             []models.Edge
	Adjacency         map[string][]string
	ReverseAdjacency  map[string][]string
	Entry             []string
	Exit              []string
	BranchPoints      []string
	ConvergencePoints map[string][]string
	ParallelGroups    [][]string
	TopoOrder         []string
	Depth             map[string]int
}

// EdgesFrom returns the outgoing edges of a node in declaration order.
func (p *ProcessedWorkflow) EdgesFrom(nodeID string) []models.Edge {
	var out []models.Edge
	for _, e := range p.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EdgesInto returns the incoming edges of a node in declaration order.
func (p *ProcessedWorkflow) EdgesInto(nodeID string) []models.Edge {
	var out []models.Edge
	for _, e := range p.Edges {
		if e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IsConvergence reports whether the node waits on more than one predecessor.
func (p *ProcessedWorkflow) IsConvergence(nodeID string) bool {
	_, ok := p.ConvergencePoints[nodeID]
	return ok
}

// Process turns an authored node/edge list into a normalized DAG. It is a
// pure function: no I/O, and no partial state escapes on failure.
func Process(nodes []models.Node, edges []models.Edge) (*ProcessedWorkflow, error) {
	if len(nodes) == 0 {
		return nil, newValidationError(ErrNoEntry, "workflow has no nodes", nil)
	}

	nodeMap := make(map[string]*models.Node, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if _, dup := nodeMap[n.ID]; dup {
			return nil, newValidationError(ErrDuplicateID, "duplicate node id: %s", []string{n.ID}, n.ID)
		}
		nodeMap[n.ID] = n
	}

	adjacency := make(map[string][]string, len(nodes))
	reverse := make(map[string][]string, len(nodes))
	for id := range nodeMap {
		adjacency[id] = nil
		reverse[id] = nil
	}

	// Single pass over edges: dedupe successors, preserve first-seen order.
	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		if _, ok := nodeMap[e.Source]; !ok {
			return nil, newValidationError(ErrUnknownNode, "edge references unknown node: %s", []string{e.Source}, e.Source)
		}
		if _, ok := nodeMap[e.Target]; !ok {
			return nil, newValidationError(ErrUnknownNode, "edge references unknown node: %s", []string{e.Target}, e.Target)
		}
		if e.Source == e.Target {
			return nil, newValidationError(ErrSelfEdge, "self edge on node: %s", []string{e.Source}, e.Source)
		}
		key := [2]string{e.Source, e.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		reverse[e.Target] = append(reverse[e.Target], e.Source)
	}

	var entry, exit []string
	for id := range nodeMap {
		if len(reverse[id]) == 0 {
			entry = append(entry, id)
		}
		if len(adjacency[id]) == 0 {
			exit = append(exit, id)
		}
	}
	sort.Strings(entry)
	sort.Strings(exit)

	if len(entry) == 0 {
		return nil, newValidationError(ErrNoEntry, "workflow has no entry nodes", nil)
	}
	if len(exit) == 0 {
		return nil, newValidationError(ErrNoExit, "workflow has no exit nodes", nil)
	}

	if cycle := detectCycle(nodeMap, adjacency); len(cycle) > 0 {
		return nil, newValidationError(ErrCycle, "workflow contains a cycle through: %v", cycle, cycle)
	}

	if orphans := findUnreachable(nodeMap, adjacency, reverse, entry, exit); len(orphans) > 0 {
		return nil, newValidationError(ErrUnreachable, "unreachable nodes: %v", orphans, orphans)
	}

	depth := computeDepth(adjacency, reverse, entry)

	var branchPoints []string
	convergence := make(map[string][]string)
	for id := range nodeMap {
		if len(adjacency[id]) > 1 {
			branchPoints = append(branchPoints, id)
		}
		if len(reverse[id]) > 1 {
			preds := append([]string(nil), reverse[id]...)
			convergence[id] = preds
		}
	}
	sort.Strings(branchPoints)

	groups := buildParallelGroups(nodeMap, adjacency, reverse, depth)

	var topo []string
	for _, layer := range groups {
		topo = append(topo, layer...)
	}

	return &ProcessedWorkflow{
		Nodes:             nodeMap,
		Edges:             append([]models.Edge(nil), edges...),
		Adjacency:         adjacency,
		ReverseAdjacency:  reverse,
		Entry:             entry,
		Exit:              exit,
		BranchPoints:      branchPoints,
		ConvergencePoints: convergence,
		ParallelGroups:    groups,
		TopoOrder:         topo,
		Depth:             depth,
	}, nil
}

// detectCycle runs a tri-color DFS and returns the node set of the first
// cycle found, or nil.
func detectCycle(nodes map[string]*models.Node, adjacency map[string][]string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(nodes))
	parent := make(map[string]string)

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, succ := range adjacency[id] {
			switch color[succ] {
			case white:
				parent[succ] = id
				if visit(succ) {
					return true
				}
			case gray:
				// Walk the parent chain back to succ to recover the cycle.
				cycle = append(cycle, succ)
				for at := id; at != succ; at = parent[at] {
					cycle = append(cycle, at)
				}
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// computeDepth is a BFS from the entry set: depth(n) = max over predecessors + 1.
func computeDepth(adjacency, reverse map[string][]string, entry []string) map[string]int {
	depth := make(map[string]int, len(adjacency))
	indegree := make(map[string]int, len(adjacency))
	for id, preds := range reverse {
		indegree[id] = len(preds)
	}

	queue := append([]string(nil), entry...)
	for _, id := range entry {
		depth[id] = 0
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range adjacency[id] {
			if d := depth[id] + 1; d > depth[succ] {
				depth[succ] = d
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	return depth
}

// findUnreachable returns nodes that do not lie on any entry-to-exit path.
func findUnreachable(nodes map[string]*models.Node, adjacency, reverse map[string][]string, entry, exit []string) []string {
	forward := bfs(adjacency, entry)
	backward := bfs(reverse, exit)

	var orphans []string
	for id := range nodes {
		if !forward[id] || !backward[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans
}

func bfs(next map[string][]string, seeds []string) map[string]bool {
	visited := make(map[string]bool, len(next))
	queue := append([]string(nil), seeds...)
	for _, s := range seeds {
		visited[s] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range next[id] {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return visited
}

// buildParallelGroups produces a topological layering: each layer contains
// nodes whose predecessors all lie in earlier layers. Ties break by depth,
// then lexicographic node id, so the layering is deterministic.
func buildParallelGroups(nodes map[string]*models.Node, adjacency, reverse map[string][]string, depth map[string]int) [][]string {
	emitted := make(map[string]bool, len(nodes))
	remaining := len(nodes)

	var groups [][]string
	for remaining > 0 {
		var layer []string
		for id := range nodes {
			if emitted[id] {
				continue
			}
			ready := true
			for _, pred := range reverse[id] {
				if !emitted[pred] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Unreachable with cycles already rejected; guard anyway.
			break
		}
		sort.Slice(layer, func(i, j int) bool {
			if depth[layer[i]] != depth[layer[j]] {
				return depth[layer[i]] < depth[layer[j]]
			}
			return layer[i] < layer[j]
		})
		for _, id := range layer {
			emitted[id] = true
		}
		remaining -= len(layer)
		groups = append(groups, layer)
	}
	return groups
}
