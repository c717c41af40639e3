// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tree builds the exploration tree of a research session: the
// topic at the root, one child per perspective, and sub-queries below.
package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// MaxNodes bounds the size of a tree. Levels are filled breadth-first, so
// a large depth and breadth lose their deepest nodes first.
const MaxNodes = 400

// facets expand a query into narrower sub-queries, in priority order.
var facets = []string{
	"methods",
	"outcomes",
	"limitations",
	"systematic review",
	"applications",
	"recent advances",
}

// Build returns the exploration tree for topic. The result depends only on
// its inputs: node IDs are derived from each node's path, so rebuilding the
// same tree yields the same IDs. The tree is at most depth levels below the
// root and every sub-query level fans out max(1, breadth/2) children.
func Build(topic string, perspectives []types.Perspective, depth, breadth int) *types.ExplorationTree {
	topic = strings.TrimSpace(topic)
	root := &types.ExplorationNode{
		ID:     nodeID(topic),
		Label:  topic,
		Query:  topic,
		Kind:   types.KindRoot,
		Depth:  0,
		Status: types.NodePending,
	}
	total := 1
	if depth < 1 {
		return &types.ExplorationTree{Root: root, TotalNodes: total}
	}

	var frontier []*types.ExplorationNode
	seeds := make(map[*types.ExplorationNode][]string)
	for i, p := range perspectives {
		if total >= MaxNodes {
			break
		}
		q := perspectiveQuery(topic, p)
		n := &types.ExplorationNode{
			ID:            nodeID(topic, strconv.Itoa(i), p.Name),
			Label:         p.Name,
			Query:         q,
			Kind:          types.KindPerspective,
			PerspectiveID: p.ID,
			Depth:         1,
			Status:        types.NodePending,
		}
		root.Children = append(root.Children, n)
		frontier = append(frontier, n)
		if len(p.Queries) > 1 {
			seeds[n] = p.Queries[1:]
		}
		total++
	}

	fanOut := max(1, breadth/2)
	paths := map[*types.ExplorationNode][]string{}
	for _, n := range frontier {
		paths[n] = []string{topic, n.ID}
	}

	for level := 2; level <= depth && total < MaxNodes; level++ {
		var next []*types.ExplorationNode
		for _, parent := range frontier {
			for i, c := range candidates(parent, seeds[parent], fanOut) {
				if total >= MaxNodes {
					break
				}
				path := append(append([]string(nil), paths[parent]...), strconv.Itoa(i), c.label)
				child := &types.ExplorationNode{
					ID:            nodeID(path...),
					Label:         c.label,
					Query:         c.query,
					Kind:          types.KindSubQuery,
					PerspectiveID: parent.PerspectiveID,
					Depth:         level,
					Status:        types.NodePending,
				}
				parent.Children = append(parent.Children, child)
				paths[child] = path
				next = append(next, child)
				total++
			}
		}
		frontier = next
	}

	return &types.ExplorationTree{Root: root, TotalNodes: total}
}

type candidate struct {
	label string
	query string
}

// candidates lists up to n sub-queries for parent: the perspective's own
// seed queries first, then facets the parent query does not mention yet.
func candidates(parent *types.ExplorationNode, seedQueries []string, n int) []candidate {
	var out []candidate
	seen := map[string]bool{strings.ToLower(parent.Query): true}
	add := func(label, query string) {
		key := strings.ToLower(strings.TrimSpace(query))
		if key == "" || seen[key] || len(out) >= n {
			return
		}
		seen[key] = true
		out = append(out, candidate{label: label, query: strings.TrimSpace(query)})
	}
	for _, q := range seedQueries {
		add(q, q)
	}
	for _, f := range facets {
		if strings.Contains(strings.ToLower(parent.Query), f) {
			continue
		}
		add(f, parent.Query+" "+f)
	}
	return out
}

func perspectiveQuery(topic string, p types.Perspective) string {
	if len(p.Queries) > 0 && strings.TrimSpace(p.Queries[0]) != "" {
		return strings.TrimSpace(p.Queries[0])
	}
	if p.Name == "" {
		return topic
	}
	return topic + " " + p.Name
}

func nodeID(path ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(path, "\x1f")))
	return "node-" + hex.EncodeToString(sum[:6])
}

// CountNodes returns the number of nodes in the subtree rooted at n.
func CountNodes(n *types.ExplorationNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += CountNodes(c)
	}
	return total
}

// Walk visits n and its descendants breadth-first. Returning false from
// fn stops the walk.
func Walk(n *types.ExplorationNode, fn func(*types.ExplorationNode) bool) {
	if n == nil {
		return
	}
	queue := []*types.ExplorationNode{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !fn(cur) {
			return
		}
		queue = append(queue, cur.Children...)
	}
}

// Nodes returns every node below the root, breadth-first.
func Nodes(t *types.ExplorationTree) []*types.ExplorationNode {
	var out []*types.ExplorationNode
	if t == nil {
		return out
	}
	Walk(t.Root, func(n *types.ExplorationNode) bool {
		if n != t.Root {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Leaves returns the nodes without children.
func Leaves(t *types.ExplorationTree) []*types.ExplorationNode {
	var out []*types.ExplorationNode
	if t == nil {
		return out
	}
	Walk(t.Root, func(n *types.ExplorationNode) bool {
		if len(n.Children) == 0 {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Find returns the node with the given ID.
func Find(t *types.ExplorationTree, id string) (*types.ExplorationNode, bool) {
	var found *types.ExplorationNode
	if t == nil {
		return nil, false
	}
	Walk(t.Root, func(n *types.ExplorationNode) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// MaxDepth returns the depth of the deepest node.
func MaxDepth(t *types.ExplorationTree) int {
	d := 0
	if t == nil {
		return d
	}
	Walk(t.Root, func(n *types.ExplorationNode) bool {
		d = max(d, n.Depth)
		return true
	})
	return d
}

// Clone returns a deep copy of t.
func Clone(t *types.ExplorationTree) *types.ExplorationTree {
	if t == nil {
		return nil
	}
	return &types.ExplorationTree{Root: cloneNode(t.Root), TotalNodes: t.TotalNodes}
}

func cloneNode(n *types.ExplorationNode) *types.ExplorationNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Findings = append([]string(nil), n.Findings...)
	c.Children = nil
	for _, ch := range n.Children {
		c.Children = append(c.Children, cloneNode(ch))
	}
	return &c
}
