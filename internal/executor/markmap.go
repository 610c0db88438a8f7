package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/provider"
)

// maxOutlineDepth bounds how deep the mind-map tree may nest. Deeper
// outline entries are clamped onto their nearest kept ancestor level.
const maxOutlineDepth = 4

// outlineEntry is one parsed line of a markdown outline.
type outlineEntry struct {
	title string
	depth int
}

// runMarkmap asks the provider for a markdown outline and bulk-inserts it
// as a node/edge tree into the output node's nested canvas.
func (e *Executor) runMarkmap(ctx context.Context, ws *Workspace, ec *Context, task planner.Task, final bool) error {
	req, err := e.buildCompletionRequest(ws, ec, task)
	if err != nil {
		return err
	}
	req.Blocks = append(req.Blocks, planOutlineBlock())

	if e.DryRun {
		req.Messages()
		return nil
	}

	results, err := e.llm.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("outline completion: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("outline completion returned nothing")
	}

	entries := parseOutline(results[0].Content)
	if len(entries) == 0 {
		return fmt.Errorf("outline has no usable entries")
	}

	if err := e.insertOutline(ws, task.Output.ID, entries); err != nil {
		return err
	}

	ec.Responses[task.Output.ID] = results[0].Content
	if err := ws.SetBody(task.Output.ID, results[0].Content); err != nil {
		return fmt.Errorf("write outline body: %w", err)
	}

	if final {
		return e.writeRunOutput(ws, ec, results[0].Content)
	}
	return nil
}

// insertOutline lays the entries out on a grid, one column per depth
// level, and links every entry to its nearest shallower predecessor.
func (e *Executor) insertOutline(ws *Workspace, parentID string, entries []outlineEntry) error {
	// Last inserted node id at each depth, for parent lookup.
	lastAt := make([]string, maxOutlineDepth+1)
	rowAt := make([]int, maxOutlineDepth+1)

	for _, entry := range entries {
		n := canvas.Node{
			ID: uuid.NewString(),
			X:  float64(entry.depth * 320),
			Y:  float64(rowAt[entry.depth] * 120),
			Data: canvas.NodeData{
				Kind:  canvas.KindDefault,
				Title: entry.title,
			},
		}
		rowAt[entry.depth]++

		if err := ws.InsertNested(parentID, n); err != nil {
			return fmt.Errorf("insert outline node: %w", err)
		}

		if entry.depth > 0 && lastAt[entry.depth-1] != "" {
			edge := canvas.Edge{
				ID:     uuid.NewString(),
				Source: lastAt[entry.depth-1],
				Target: n.ID,
			}
			if err := ws.InsertNestedEdge(parentID, edge); err != nil {
				return fmt.Errorf("insert outline edge: %w", err)
			}
		}

		lastAt[entry.depth] = n.ID
		for d := entry.depth + 1; d <= maxOutlineDepth; d++ {
			lastAt[d] = ""
		}
	}
	return nil
}

// parseOutline reads a markdown outline: ATX headings set absolute depth by
// heading level, list items nest two spaces per level below the current
// heading. Blank and unrecognized lines are skipped.
func parseOutline(markdown string) []outlineEntry {
	var entries []outlineEntry
	headingDepth := -1

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' {
				level++
			}
			title := strings.TrimSpace(trimmed[level:])
			if title == "" {
				continue
			}
			depth := clampDepth(level - 1)
			headingDepth = depth
			entries = append(entries, outlineEntry{title: title, depth: depth})
			continue
		}

		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			title := strings.TrimSpace(trimmed[2:])
			if title == "" {
				continue
			}
			indent := len(line) - len(trimmed)
			depth := clampDepth(headingDepth + 1 + indent/2)
			entries = append(entries, outlineEntry{title: title, depth: depth})
		}
	}
	return entries
}

func clampDepth(d int) int {
	if d < 0 {
		return 0
	}
	if d > maxOutlineDepth {
		return maxOutlineDepth
	}
	return d
}

func planOutlineBlock() provider.Block {
	return provider.Block{
		Title: "Format",
		Body:  "Answer as a markdown outline: one `#` heading per top-level theme, `##` for sub-themes, and `-` list items for leaves. No prose outside the outline.",
	}
}
