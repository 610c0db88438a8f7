package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/provider"
)

// runPaperFinder searches the paper provider with the concatenated input
// titles and drops one result card per hit into the output node's nested
// canvas.
func (e *Executor) runPaperFinder(ctx context.Context, ws *Workspace, ec *Context, task planner.Task, final bool) error {
	query := e.collectQuery(ws, task)
	if query == "" {
		return fmt.Errorf("paper search has no query: all input titles empty")
	}

	if e.DryRun {
		return nil
	}

	papers, err := e.papers.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("paper search: %w", err)
	}

	results := make([]provider.Result, 0, len(papers))
	for _, p := range papers {
		results = append(results, provider.Result{
			Title:   p.Title,
			Content: provider.PaperMarkdown(p),
		})
	}
	return e.writeResults(ws, ec, task, results, final)
}

// runPaperQA asks the Q&A provider and renders the reply through the
// layered markdown fallback.
func (e *Executor) runPaperQA(ctx context.Context, ws *Workspace, ec *Context, task planner.Task, final bool) error {
	question := e.collectQuery(ws, task)
	if question == "" {
		question = e.triggerInstruction(ws, task.Trigger)
	}
	if question == "" {
		return fmt.Errorf("paper Q&A has no question")
	}

	if e.DryRun {
		return nil
	}

	raw, err := e.qa.Ask(ctx, question)
	if err != nil {
		return fmt.Errorf("paper Q&A: %w", err)
	}

	result := provider.Result{
		Title:   question,
		Content: provider.RenderQAMarkdown(raw),
	}
	return e.writeResults(ws, ec, task, []provider.Result{result}, final)
}

// collectQuery concatenates the input titles, trigger title last.
func (e *Executor) collectQuery(ws *Workspace, task planner.Task) string {
	var parts []string
	for _, input := range task.Inputs {
		if t := e.inputTitle(ws, input); t != "" {
			parts = append(parts, t)
		}
	}
	if t := e.inputTitle(ws, task.Trigger); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}
