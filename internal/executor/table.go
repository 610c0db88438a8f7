package executor

import (
	"context"
	"fmt"

	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/provider"
	"github.com/mindloom/mindloom/internal/richtext"
)

// runTable extracts tabular data from the inputs and merges it into the
// output node's body. A table whose header sequence matches exactly gets
// the new rows appended; otherwise a fresh table is added at the end.
func (e *Executor) runTable(ctx context.Context, ws *Workspace, ec *Context, task planner.Task, final bool) error {
	req, err := e.buildCompletionRequest(ws, ec, task)
	if err != nil {
		return err
	}

	if e.DryRun {
		req.Messages()
		return nil
	}

	extraction, err := e.llm.CompleteTable(ctx, req)
	if err != nil {
		return fmt.Errorf("table extraction: %w", err)
	}
	if len(extraction.Headers) == 0 {
		return fmt.Errorf("table extraction returned no columns")
	}

	body, err := e.mergeTable(ws.Body(task.Output.ID), extraction)
	if err != nil {
		return err
	}
	if err := ws.SetBody(task.Output.ID, body); err != nil {
		return fmt.Errorf("write table body: %w", err)
	}
	ec.Responses[task.Output.ID] = body

	if final {
		return e.writeRunOutput(ws, ec, body)
	}
	return nil
}

func (e *Executor) mergeTable(existing string, extraction provider.TableExtraction) (string, error) {
	doc, err := richtext.Parse(existing)
	if err != nil {
		return "", fmt.Errorf("parse output body: %w", err)
	}

	if idx := richtext.FindTable(doc, extraction.Headers); idx >= 0 {
		richtext.AppendRows(&doc.Content[idx], extraction.Rows)
	} else {
		doc.Content = append(doc.Content, richtext.BuildTable(extraction.Headers, extraction.Rows))
	}

	return doc.Marshal()
}
