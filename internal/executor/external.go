package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/provider"
)

// expandExternal performs the inbound half of cross-space transfer: it
// opens the referenced space's documents, mirrors the usable remote nodes
// into this run's fan-out list, and caches their bodies so prompt blocks
// do not need the remote connection later. Titles are copied into the
// local space map so the canvas can label the borrowed nodes.
func (e *Executor) expandExternal(ctx context.Context, ws *Workspace, ec *Context, input canvas.Node) ([]canvas.Node, map[string]*planner.SourceNodeInfo, error) {
	ref := *input.Data.External

	if e.remotes == nil {
		return nil, nil, fmt.Errorf("external reference on %s but no remote dialer configured", input.ID)
	}

	remote, err := e.remotes.OpenRemote(ctx, ref, ec.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("open remote space %s: %w", ref.SpaceID, err)
	}
	defer remote.Close()

	rws := &Workspace{Run: remote.Canvas, Space: remote.Space}
	nodes, err := rws.Nodes()
	if err != nil {
		return nil, nil, fmt.Errorf("read remote canvas: %w", err)
	}

	var items []canvas.Node
	sources := make(map[string]*planner.SourceNodeInfo)
	for _, n := range nodes {
		if ref.NodeID != "" && n.ID != ref.NodeID && !remoteDescendant(rws, ref, n) {
			continue
		}
		if n.Data.Kind.IsTrigger() || n.Data.Kind == canvas.KindOutput {
			continue
		}

		ec.externalBodies[n.ID] = rws.Body(n.ID)
		if title := rws.Title(n.ID); title != "" {
			if err := ws.SetTitle(n.ID, title); err != nil {
				return nil, nil, fmt.Errorf("copy remote title: %w", err)
			}
		}

		items = append(items, n)
		sources[n.ID] = &planner.SourceNodeInfo{NodeID: n.ID, SpaceID: ref.SpaceID}
	}
	return items, sources, nil
}

// remoteDescendant reports whether n sits in the nested result canvas of
// the referenced remote node, up to the reference's depth bound.
func remoteDescendant(rws *Workspace, ref canvas.ExternalRef, n canvas.Node) bool {
	depth := ref.Depth
	if depth <= 0 {
		depth = 1
	}

	frontier := []string{ref.NodeID}
	for level := 0; level < depth; level++ {
		var next []string
		for _, id := range frontier {
			nested, err := rws.NestedNodes(id)
			if err != nil {
				continue
			}
			for _, c := range nested {
				if c.ID == n.ID {
					return true
				}
				next = append(next, c.ID)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return false
}

// transferOut pushes a task's results into the space an external-data
// output node points at. Failures land on the external node's error state
// only; the run keeps going.
func (e *Executor) transferOut(ws *Workspace, ec *Context, task planner.Task, results []provider.Result) error {
	output := task.Output
	ref := output.Data.External
	if ref == nil {
		return fmt.Errorf("external output %s has no reference", output.ID)
	}
	if e.remotes == nil {
		return fmt.Errorf("external output on %s but no remote dialer configured", output.ID)
	}

	combined := combineResults(results)
	ec.Responses[output.ID] = combined

	// Let any in-flight local edits settle before writing remotely.
	if e.propagation > 0 {
		time.Sleep(e.propagation)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remote, err := e.remotes.OpenRemote(ctx, *ref, ec.Token)
	if err != nil {
		e.setState(ws, output.ID, canvas.StateError, truncate(err.Error(), maxErrorLen))
		return nil
	}
	defer remote.Close()

	rws := &Workspace{Run: remote.Canvas, Space: remote.Space}

	if task.Source != nil && task.Source.SpaceID == ref.SpaceID {
		// The result came from a specific remote node this run borrowed;
		// update that node in place instead of duplicating it.
		if err := rws.SetBody(task.Source.NodeID, combined); err != nil {
			e.setState(ws, output.ID, canvas.StateError, truncate(err.Error(), maxErrorLen))
			return nil
		}
		if len(results) > 0 && results[0].Title != "" {
			if err := rws.SetTitle(task.Source.NodeID, results[0].Title); err != nil {
				e.setState(ws, output.ID, canvas.StateError, truncate(err.Error(), maxErrorLen))
			}
		}
		return nil
	}

	for i, r := range results {
		n := resultNode(r.Title, i)
		n.Data.Source = &canvas.SourceRef{NodeID: task.Trigger.ID, SpaceID: ec.SpaceID}
		if err := rws.PutNode(n); err != nil {
			e.setState(ws, output.ID, canvas.StateError, truncate(err.Error(), maxErrorLen))
			return nil
		}
		if err := rws.SetTitle(n.ID, r.Title); err != nil {
			e.setState(ws, output.ID, canvas.StateError, truncate(err.Error(), maxErrorLen))
			return nil
		}
		if err := rws.SetBody(n.ID, r.Content); err != nil {
			e.setState(ws, output.ID, canvas.StateError, truncate(err.Error(), maxErrorLen))
			return nil
		}
	}
	return nil
}
