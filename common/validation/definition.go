// Package validation checks workflow definitions before they are stored or
// published: node identity, edge references, edge types, and graph shape.
// Per-type node config checks stay with the strategies that own the types.
package validation

import (
	"fmt"

	"github.com/flowgrid/flowgrid/common/graph"
	"github.com/flowgrid/flowgrid/common/models"
)

// Finding is one validation problem, addressed by field path.
type Finding struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Definition validates the structural shape of a workflow definition.
// Returns nil when the definition is well formed.
func Definition(name string, nodes []models.Node, edges []models.Edge) []Finding {
	var findings []Finding
	add := func(field, format string, args ...interface{}) {
		findings = append(findings, Finding{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if name == "" {
		add("name", "name is required")
	}
	if len(nodes) == 0 {
		add("nodes", "at least one node is required")
	}

	seen := make(map[string]bool, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		field := fmt.Sprintf("nodes[%d]", i)
		if node.ID == "" {
			add(field+".id", "node id is required")
			continue
		}
		if seen[node.ID] {
			add(field+".id", "duplicate node id %q", node.ID)
		}
		seen[node.ID] = true
		if node.Type == "" {
			add(field+".type", "node type is required")
		}
	}

	for i, edge := range edges {
		field := fmt.Sprintf("edges[%d]", i)
		if !seen[edge.Source] {
			add(field+".source", "unknown node %q", edge.Source)
		}
		if !seen[edge.Target] {
			add(field+".target", "unknown node %q", edge.Target)
		}
		if edge.Type != "" && edge.Type != models.EdgeTypeDefault && edge.Type != models.EdgeTypeFailure {
			add(field+".type", "unknown edge type %q", edge.Type)
		}
	}
	if len(findings) > 0 {
		return findings
	}

	if _, err := graph.Process(nodes, edges); err != nil {
		add("edges", "%s", err.Error())
	}
	return findings
}
