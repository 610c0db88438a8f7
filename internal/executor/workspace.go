package executor

import (
	"sort"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/replica"
)

// SpaceNode is the lightweight per-node title record kept in the space
// document's title map. The authoritative page body lives in the run or
// canvas document under "<id>-document".
type SpaceNode struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Workspace is the pair of replicated documents one run mutates: the run
// document (nodes, edges, page bodies, nested result canvases) and the
// space document (shared title map).
type Workspace struct {
	Run   *replica.Doc
	Space *replica.Doc
}

// Nodes reads every canvas node from the run document, id-sorted.
func (w *Workspace) Nodes() ([]canvas.Node, error) {
	m := w.Run.Map("nodes")
	keys := m.Keys()
	sort.Strings(keys)

	nodes := make([]canvas.Node, 0, len(keys))
	for _, key := range keys {
		var n canvas.Node
		ok, err := m.GetJSON(key, &n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if n.ID == "" {
			n.ID = key
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Edges reads every canvas edge from the run document, id-sorted.
func (w *Workspace) Edges() ([]canvas.Edge, error) {
	m := w.Run.Map("edges")
	keys := m.Keys()
	sort.Strings(keys)

	edges := make([]canvas.Edge, 0, len(keys))
	for _, key := range keys {
		var e canvas.Edge
		ok, err := m.GetJSON(key, &e)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e.ID == "" {
			e.ID = key
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Node reads one canvas node.
func (w *Workspace) Node(id string) (canvas.Node, bool) {
	var n canvas.Node
	ok, err := w.Run.Map("nodes").GetJSON(id, &n)
	if err != nil || !ok {
		return canvas.Node{}, false
	}
	if n.ID == "" {
		n.ID = id
	}
	return n, true
}

// PutNode writes a canvas node.
func (w *Workspace) PutNode(n canvas.Node) error {
	return w.Run.Map("nodes").SetJSON(n.ID, n)
}

// PutEdge writes a canvas edge.
func (w *Workspace) PutEdge(e canvas.Edge) error {
	return w.Run.Map("edges").SetJSON(e.ID, e)
}

// SetNodeState updates the transient run state on a node. Unknown ids are
// ignored: a concurrent editor may have deleted the node mid-run.
func (w *Workspace) SetNodeState(id string, state canvas.RunState, errMsg string) error {
	n, ok := w.Node(id)
	if !ok {
		return nil
	}
	n.Data.State = state
	n.Data.Error = errMsg
	return w.PutNode(n)
}

// Title resolves a node's display title: the space title map wins, the
// node payload is the fallback.
func (w *Workspace) Title(id string) string {
	var sn SpaceNode
	if ok, _ := w.Space.Map("nodes").GetJSON(id, &sn); ok && sn.Title != "" {
		return sn.Title
	}
	if n, ok := w.Node(id); ok {
		return n.Data.Title
	}
	return ""
}

// SetTitle writes a node title into the space title map.
func (w *Workspace) SetTitle(id, title string) error {
	return w.Space.Map("nodes").SetJSON(id, SpaceNode{ID: id, Title: title})
}

// Body reads a node's page body text.
func (w *Workspace) Body(id string) string {
	text, err := w.Run.GetText(id + "-document")
	if err != nil {
		return ""
	}
	return text
}

// SetBody writes a node's page body text.
func (w *Workspace) SetBody(id, content string) error {
	return w.Run.SetText(id+"-document", content)
}

// NestedNodes reads the result nodes of a node's nested canvas, id-sorted.
func (w *Workspace) NestedNodes(parentID string) ([]canvas.Node, error) {
	m := w.Run.Map(parentID + "-canvas-nodes")
	keys := m.Keys()
	sort.Strings(keys)

	nodes := make([]canvas.Node, 0, len(keys))
	for _, key := range keys {
		var n canvas.Node
		ok, err := m.GetJSON(key, &n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if n.ID == "" {
			n.ID = key
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// InsertNested adds a result node to a node's nested canvas.
func (w *Workspace) InsertNested(parentID string, n canvas.Node) error {
	return w.Run.Map(parentID+"-canvas-nodes").SetJSON(n.ID, n)
}

// InsertNestedEdge adds an edge to a node's nested canvas.
func (w *Workspace) InsertNestedEdge(parentID string, e canvas.Edge) error {
	return w.Run.Map(parentID+"-canvas-edges").SetJSON(e.ID, e)
}

// BuildCanvas compiles the run document's graph.
func (w *Workspace) BuildCanvas() (canvas.Canvas, error) {
	nodes, err := w.Nodes()
	if err != nil {
		return canvas.Canvas{}, err
	}
	edges, err := w.Edges()
	if err != nil {
		return canvas.Canvas{}, err
	}
	return canvas.Build(nodes, edges), nil
}
