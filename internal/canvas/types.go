// Package canvas models the node/edge graph of one visual workspace and
// compiles it into the adjacency form the planner consumes.
package canvas

// NodeKind tags the type of a canvas node. The task dispatch switch over
// kinds is exhaustive; adding a kind means deciding its planner and
// executor behavior.
type NodeKind string

const (
	KindDefault          NodeKind = "default"
	KindLoop             NodeKind = "loop"
	KindInput            NodeKind = "input"
	KindOutput           NodeKind = "output"
	KindPrompt           NodeKind = "prompt"
	KindResponseSingle   NodeKind = "response_single"
	KindResponseMultiple NodeKind = "response_multiple"
	KindResponseCombined NodeKind = "response_combined"
	KindResponseTable    NodeKind = "response_table"
	KindResponseMarkmap  NodeKind = "response_markmap"
	KindPaperFinder      NodeKind = "paper_finder"
	KindPaperQA          NodeKind = "paper_qa"
	KindPaperQACol       NodeKind = "paper_qa_collection"
	KindExternalData     NodeKind = "external_data"
)

// IsTrigger reports whether nodes of this kind initiate a task.
func (k NodeKind) IsTrigger() bool {
	switch k {
	case KindPrompt, KindPaperFinder, KindPaperQA, KindPaperQACol:
		return true
	}
	return false
}

// IsResponse reports whether this kind collects task output.
func (k NodeKind) IsResponse() bool {
	switch k {
	case KindResponseSingle, KindResponseMultiple, KindResponseCombined,
		KindResponseTable, KindResponseMarkmap:
		return true
	}
	return false
}

// IsValidInput reports whether nodes of this kind may feed a trigger.
func (k NodeKind) IsValidInput() bool {
	if k == "" || k == KindDefault || k == KindExternalData {
		return true
	}
	return k.IsResponse()
}

// IsOutputTarget reports whether nodes of this kind may receive a task's
// result. The run's overall output node is resolved separately and is not
// a per-task target.
func (k NodeKind) IsOutputTarget() bool {
	return k.IsResponse() || k == KindExternalData
}

// RunState is the transient execution state written onto nodes mid-run.
type RunState string

const (
	StateActive    RunState = "active"
	StateExecuting RunState = "executing"
	StateInactive  RunState = "inactive"
	StateError     RunState = "error"
)

// ExternalRef points at a node living in another space's canvas.
type ExternalRef struct {
	NodeID  string `json:"nodeId"`
	SpaceID string `json:"spaceId"`
	Depth   int    `json:"depth,omitempty"`
}

// SourceRef records the origin node of a result copied across spaces, so a
// later run can push updates back onto the exact remote node.
type SourceRef struct {
	NodeID  string `json:"nodeId"`
	SpaceID string `json:"spaceId"`
}

// NodeData is the typed payload of a canvas node. Kind selects behavior;
// the optional pointers carry kind-specific configuration.
type NodeData struct {
	Kind  NodeKind `json:"kind"`
	Title string   `json:"title,omitempty"`

	// External is set on external_data nodes.
	External *ExternalRef `json:"external,omitempty"`

	// Source is set on result nodes copied from another space.
	Source *SourceRef `json:"source,omitempty"`

	// Transient run state, written by the executor.
	State RunState `json:"state,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Node is one canvas node.
type Node struct {
	ID     string   `json:"id"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width,omitempty"`
	Height float64  `json:"height,omitempty"`
	Data   NodeData `json:"data"`
}

// Edge is a directed connection. Target consumes Source as input; the
// adjacency list preserves that inversion.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Canvas is the compiled graph form. Rebuilt on every execution, never
// persisted.
type Canvas struct {
	Nodes map[string]Node
	Edges map[string]Edge

	// Adjacency maps a consuming node to the nodes it consumes.
	Adjacency map[string][]string

	// Sorted lists node ids in reverse-postorder: producers before
	// consumers.
	Sorted []string
}
