// Package planner compiles a canvas into the ordered task list one run
// executes.
package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mindloom/mindloom/internal/canvas"
)

// ErrCyclicCanvas is returned when the canvas contains a cycle. A cyclic
// graph has no execution order, so planning refuses it up front.
var ErrCyclicCanvas = errors.New("canvas contains a cycle")

// ErrBadOutputNode is returned when a trigger's resolved output is not a
// response or external-data node. This is a contract violation that aborts
// planning, not a per-node error.
var ErrBadOutputNode = errors.New("output node has disallowed kind")

// SourceNodeInfo tags a fanned-out task with the remote node it
// originated from.
type SourceNodeInfo struct {
	NodeID  string
	SpaceID string
}

// Task is one trigger-node execution with its resolved inputs. Created
// here, consumed once by the executor, never persisted.
type Task struct {
	Trigger canvas.Node
	Inputs  []canvas.Node
	Output  *canvas.Node

	// Loop marks tasks whose response-typed inputs must fan out over
	// their nested result nodes at execution time.
	Loop bool

	Source *SourceNodeInfo
}

// Plan walks the sorted canvas and emits the ordered task list.
func Plan(c canvas.Canvas, logger *slog.Logger) ([]Task, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.HasCycle() {
		return nil, ErrCyclicCanvas
	}

	adj := bypassInputNode(c)

	var tasks []Task
	for _, id := range c.Sorted {
		trigger := c.Nodes[id]
		if !trigger.Data.Kind.IsTrigger() {
			continue
		}

		output, err := resolveOutput(c, adj, trigger, logger)
		if err != nil {
			return nil, err
		}

		var fixed []canvas.Node
		var loopLists [][]canvas.Node
		loop := false
		for _, src := range adj[id] {
			n, ok := c.Nodes[src]
			if !ok {
				continue
			}
			if n.Data.Kind == canvas.KindLoop {
				var items []canvas.Node
				for _, itemID := range adj[src] {
					item, ok := c.Nodes[itemID]
					if !ok || !item.Data.Kind.IsValidInput() {
						continue
					}
					items = append(items, item)
					if item.Data.Kind.IsResponse() || item.Data.Kind == canvas.KindExternalData {
						loop = true
					}
				}
				if len(items) > 0 {
					loopLists = append(loopLists, items)
				}
				continue
			}
			if n.Data.Kind.IsValidInput() {
				fixed = append(fixed, n)
			}
		}

		base := Task{Trigger: trigger, Inputs: fixed, Output: output, Loop: loop}
		if len(loopLists) > 0 {
			crossProduct(base, loopLists, nil, &tasks)
		} else if len(base.Inputs) > 0 || base.Loop {
			tasks = append(tasks, base)
		}
	}

	// Post-filter. Tasks with zero inputs and an output are intentionally
	// not retained either.
	kept := tasks[:0]
	for _, t := range tasks {
		if t.Output == nil {
			logger.Info("dropping task without output node",
				slog.String("trigger", t.Trigger.ID))
			continue
		}
		if len(t.Inputs) == 0 && !t.Loop {
			logger.Info("dropping task without inputs",
				slog.String("trigger", t.Trigger.ID))
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}

// bypassInputNode splices the input placeholder out of the adjacency list:
// consumers of the input node inherit its sources instead, and the input
// node's own entry disappears. Self-references introduced by the splice are
// skipped. The canvas's own adjacency is left untouched.
func bypassInputNode(c canvas.Canvas) map[string][]string {
	adj := make(map[string][]string, len(c.Adjacency))
	for k, v := range c.Adjacency {
		adj[k] = append([]string(nil), v...)
	}

	var inputID string
	for _, n := range c.Nodes {
		if n.Data.Kind == canvas.KindInput {
			inputID = n.ID
			break
		}
	}
	if inputID == "" {
		return adj
	}

	inputSources := adj[inputID]
	for key, sources := range adj {
		if key == inputID {
			continue
		}
		var rewritten []string
		for _, src := range sources {
			if src != inputID {
				rewritten = append(rewritten, src)
				continue
			}
			for _, s := range inputSources {
				if s != key {
					rewritten = append(rewritten, s)
				}
			}
		}
		adj[key] = rewritten
	}
	delete(adj, inputID)
	return adj
}

// resolveOutput finds the node consuming the trigger's result: the
// adjacency entry whose source list contains the trigger. Multiple matches
// keep the last found with a warning; a match of a disallowed kind is
// fatal.
func resolveOutput(c canvas.Canvas, adj map[string][]string, trigger canvas.Node, logger *slog.Logger) (*canvas.Node, error) {
	keys := make([]string, 0, len(adj))
	for k := range adj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var output *canvas.Node
	for _, key := range keys {
		for _, src := range adj[key] {
			if src != trigger.ID {
				continue
			}
			n, ok := c.Nodes[key]
			if !ok {
				continue
			}
			if output != nil {
				logger.Warn("multiple output nodes found, keeping last",
					slog.String("trigger", trigger.ID),
					slog.String("previous", output.ID),
					slog.String("replacement", n.ID),
				)
			}
			out := n
			output = &out
		}
	}

	if output != nil && !output.Data.Kind.IsOutputTarget() {
		return nil, fmt.Errorf("%w: trigger %s resolved to %s (%s)",
			ErrBadOutputNode, trigger.ID, output.ID, output.Data.Kind)
	}
	return output, nil
}

// crossProduct expands the base task against every combination of loop
// items, one item per list, preserving the fixed inputs.
func crossProduct(base Task, lists [][]canvas.Node, chosen []canvas.Node, out *[]Task) {
	if len(lists) == 0 {
		t := base
		t.Inputs = make([]canvas.Node, 0, len(base.Inputs)+len(chosen))
		t.Inputs = append(t.Inputs, base.Inputs...)
		t.Inputs = append(t.Inputs, chosen...)
		*out = append(*out, t)
		return
	}
	for _, item := range lists[0] {
		crossProduct(base, lists[1:], append(chosen, item), out)
	}
}
