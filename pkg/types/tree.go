// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// NodeStatus tracks an exploration node during execution.
type NodeStatus string

const (
	NodePending  NodeStatus = "pending"
	NodeActive   NodeStatus = "active"
	NodeComplete NodeStatus = "complete"
	NodeFailed   NodeStatus = "failed"
)

// NodeKind distinguishes the levels of the tree.
type NodeKind string

const (
	KindRoot        NodeKind = "root"
	KindPerspective NodeKind = "perspective"
	KindSubQuery    NodeKind = "subquery"
)

// ExplorationNode is one point in the search space. Root is the topic,
// children of the root are perspectives, deeper nodes are sub-queries.
type ExplorationNode struct {
	ID            string             `json:"id" yaml:"id"`
	Label         string             `json:"label" yaml:"label"`
	Query         string             `json:"query" yaml:"query"`
	Kind          NodeKind           `json:"kind" yaml:"kind"`
	PerspectiveID string             `json:"perspectiveId,omitempty" yaml:"perspective_id,omitempty"`
	Depth         int                `json:"depth" yaml:"depth"`
	Status        NodeStatus         `json:"status" yaml:"status"`
	SourceCount   int                `json:"sourceCount" yaml:"source_count"`
	Findings      []string           `json:"findings,omitempty" yaml:"findings,omitempty"`
	Children      []*ExplorationNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// ExplorationTree is the decomposition of a topic. TotalNodes is
// precomputed at build time.
type ExplorationTree struct {
	Root       *ExplorationNode `json:"root" yaml:"root"`
	TotalNodes int              `json:"totalNodes" yaml:"total_nodes"`
}
