package executor

import (
	"context"
	"fmt"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/provider"
)

// runPrompt handles prompt-triggered tasks. Table and mind-map typed
// outputs take dedicated render paths; everything else goes through the
// generic structured completion.
func (e *Executor) runPrompt(ctx context.Context, ws *Workspace, ec *Context, task planner.Task, final bool) error {
	switch task.Output.Data.Kind {
	case canvas.KindResponseTable:
		return e.runTable(ctx, ws, ec, task, final)
	case canvas.KindResponseMarkmap:
		return e.runMarkmap(ctx, ws, ec, task, final)
	}

	req, err := e.buildCompletionRequest(ws, ec, task)
	if err != nil {
		return err
	}
	req.Multi = task.Output.Data.Kind == canvas.KindResponseMultiple

	if e.DryRun {
		req.Messages()
		return nil
	}

	results, err := e.llm.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("prompt completion: %w", err)
	}
	return e.writeResults(ws, ec, task, results, final)
}

// buildCompletionRequest renders the task's inputs as formatted blocks.
// The trigger node's own body is the instruction and goes last; response
// inputs expand into one block per nested result node.
func (e *Executor) buildCompletionRequest(ws *Workspace, ec *Context, task planner.Task) (provider.CompletionRequest, error) {
	req := provider.CompletionRequest{
		System: ec.Buddy.SystemPrompt,
		Model:  ec.Buddy.Model,
	}

	for _, input := range task.Inputs {
		if input.Data.Kind.IsResponse() && !task.Loop {
			nested, err := ws.NestedNodes(input.ID)
			if err != nil {
				return req, fmt.Errorf("expand response input %s: %w", input.ID, err)
			}
			for _, n := range nested {
				req.Blocks = append(req.Blocks, provider.Block{
					Title: e.inputTitle(ws, n),
					Body:  e.inputBody(ws, ec, n),
				})
			}
			continue
		}
		req.Blocks = append(req.Blocks, provider.Block{
			Title: e.inputTitle(ws, input),
			Body:  e.inputBody(ws, ec, input),
		})
	}

	req.Blocks = append(req.Blocks, provider.Block{
		Title: "Instruction",
		Body:  e.triggerInstruction(ws, task.Trigger),
	})
	return req, nil
}

// inputTitle prefers the collaborative space title over the node's static
// payload.
func (e *Executor) inputTitle(ws *Workspace, n canvas.Node) string {
	if t := ws.Title(n.ID); t != "" {
		return t
	}
	return n.Data.Title
}

// inputBody resolves a node's page body, consulting the external-body
// cache for nodes copied in from remote spaces this run.
func (e *Executor) inputBody(ws *Workspace, ec *Context, n canvas.Node) string {
	if body, ok := ec.externalBodies[n.ID]; ok {
		return body
	}
	if prior, ok := ec.Responses[n.ID]; ok && ws.Body(n.ID) == "" {
		return prior
	}
	return ws.Body(n.ID)
}

// triggerInstruction is the prompt text: the trigger's body when present,
// else its title.
func (e *Executor) triggerInstruction(ws *Workspace, trigger canvas.Node) string {
	if body := ws.Body(trigger.ID); body != "" {
		return body
	}
	return e.inputTitle(ws, trigger)
}
