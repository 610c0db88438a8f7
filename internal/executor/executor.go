// Package executor consumes the planner's task list, dispatches each task
// to its provider handler, and writes results back into the replicated run
// document.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/metrics"
	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/provider"
	"github.com/mindloom/mindloom/internal/replica"
)

// maxErrorLen bounds the diagnostic message written into a node's error
// state.
const maxErrorLen = 500

// Buddy is the LLM persona selected for a run.
type Buddy struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
}

// Context is the state of one run. Discarded at run end.
type Context struct {
	Token     string
	SpaceID   string
	Tasks     []planner.Task
	Responses map[string]string
	Output    canvas.Node
	Buddy     Buddy

	// externalBodies caches page bodies fetched from remote spaces during
	// inbound expansion, keyed by remote node id.
	externalBodies map[string]string
}

// NewContext builds a run context for the planned tasks.
func NewContext(token, spaceID string, tasks []planner.Task, output canvas.Node, buddy Buddy) *Context {
	return &Context{
		Token:          token,
		SpaceID:        spaceID,
		Tasks:          tasks,
		Responses:      make(map[string]string),
		Output:         output,
		Buddy:          buddy,
		externalBodies: make(map[string]string),
	}
}

// Remote is a short-lived view of another space's documents. Close must be
// called on every path that obtained one.
type Remote struct {
	Canvas *replica.Doc
	Space  *replica.Doc

	closeFn func()
}

// Close releases the remote connection. Safe to call on a nil receiver.
func (r *Remote) Close() {
	if r != nil && r.closeFn != nil {
		r.closeFn()
	}
}

// NewRemote wraps remote documents with their teardown hook. Used by the
// sync client and by tests.
func NewRemote(canvasDoc, spaceDoc *replica.Doc, closeFn func()) *Remote {
	return &Remote{Canvas: canvasDoc, Space: spaceDoc, closeFn: closeFn}
}

// RemoteDialer opens the documents an external-data reference points at.
type RemoteDialer interface {
	OpenRemote(ctx context.Context, ref canvas.ExternalRef, token string) (*Remote, error)
}

// Executor runs one task list sequentially. Provider clients are injected
// once at construction.
type Executor struct {
	llm     provider.Completer
	papers  provider.PaperSearcher
	qa      provider.PaperQA
	remotes RemoteDialer
	logger  *slog.Logger

	// DryRun builds provider requests without sending them and skips all
	// node state writes.
	DryRun bool

	// propagation is the outbound-transfer settle delay. Overridden in
	// tests.
	propagation time.Duration
}

// New creates an executor with the given provider clients.
func New(llm provider.Completer, papers provider.PaperSearcher, qa provider.PaperQA, remotes RemoteDialer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		llm:         llm,
		papers:      papers,
		qa:          qa,
		remotes:     remotes,
		logger:      logger,
		propagation: 2 * time.Second,
	}
}

// Run walks the task list in planner order. Tasks never run concurrently
// with each other; each task is an independent suspension point. Per-task
// failures are written into node error state and the run continues.
func (e *Executor) Run(ctx context.Context, ws *Workspace, ec *Context, cancel *CancelFlag) error {
	for i, task := range ec.Tasks {
		if cancel.Stopped() {
			e.markTask(ws, task, canvas.StateInactive)
			break
		}

		e.markTask(ws, task, canvas.StateActive)

		subtasks, err := e.expand(ctx, ws, ec, task)
		if err != nil {
			e.failTask(ws, task, err)
			e.markTask(ws, task, canvas.StateInactive)
			continue
		}

		finalTask := i == len(ec.Tasks)-1
		cancelled := false
		for j, st := range subtasks {
			if cancel.Stopped() {
				cancelled = true
				break
			}

			final := finalTask && j == len(subtasks)-1
			if err := e.dispatch(ctx, ws, ec, st, final); err != nil {
				metrics.TasksTotal.WithLabelValues(string(st.Trigger.Data.Kind), "error").Inc()
				e.failTask(ws, st, err)
				continue
			}

			if cancel.Stopped() {
				// Observed after the provider call: results already
				// written stay, no further sub-tasks start.
				metrics.TasksTotal.WithLabelValues(string(st.Trigger.Data.Kind), "cancelled").Inc()
				cancelled = true
				break
			}
			metrics.TasksTotal.WithLabelValues(string(st.Trigger.Data.Kind), "ok").Inc()
		}

		e.markTask(ws, task, canvas.StateInactive)
		if cancelled {
			break
		}
	}
	return nil
}

// expand turns one planned task into its run-time sub-tasks. Response-typed
// inputs fan out over their nested result nodes; external-data inputs fan
// out over the remote canvas (inbound transfer, §external). Non-fanning
// inputs stay fixed across all sub-tasks.
func (e *Executor) expand(ctx context.Context, ws *Workspace, ec *Context, task planner.Task) ([]planner.Task, error) {
	type fanList struct {
		items  []canvas.Node
		source map[string]*planner.SourceNodeInfo
	}

	var fixed []canvas.Node
	var lists []fanList

	for _, input := range task.Inputs {
		switch {
		case task.Loop && input.Data.Kind.IsResponse():
			nested, err := ws.NestedNodes(input.ID)
			if err != nil {
				return nil, fmt.Errorf("resolve nested canvas of %s: %w", input.ID, err)
			}
			if len(nested) == 0 {
				continue
			}
			lists = append(lists, fanList{items: nested})

		case input.Data.Kind == canvas.KindExternalData && input.Data.External != nil:
			items, sources, err := e.expandExternal(ctx, ws, ec, input)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				continue
			}
			lists = append(lists, fanList{items: items, source: sources})

		default:
			fixed = append(fixed, input)
		}
	}

	if len(lists) == 0 {
		return []planner.Task{task}, nil
	}

	var out []planner.Task
	var walk func(idx int, chosen []canvas.Node, source *planner.SourceNodeInfo)
	walk = func(idx int, chosen []canvas.Node, source *planner.SourceNodeInfo) {
		if idx == len(lists) {
			st := task
			st.Loop = false
			st.Inputs = make([]canvas.Node, 0, len(fixed)+len(chosen))
			st.Inputs = append(st.Inputs, fixed...)
			st.Inputs = append(st.Inputs, chosen...)
			st.Source = source
			out = append(out, st)
			return
		}
		for _, item := range lists[idx].items {
			s := source
			if info := lists[idx].source[item.ID]; info != nil {
				s = info
			}
			next := make([]canvas.Node, len(chosen), len(chosen)+1)
			copy(next, chosen)
			walk(idx+1, append(next, item), s)
		}
	}
	walk(0, nil, task.Source)
	return out, nil
}

// dispatch routes one sub-task to its handler. The switch over trigger
// kinds is exhaustive; planner guarantees only trigger kinds arrive here.
func (e *Executor) dispatch(ctx context.Context, ws *Workspace, ec *Context, task planner.Task, final bool) error {
	if !e.DryRun {
		e.setState(ws, task.Trigger.ID, canvas.StateExecuting, "")
	}

	var err error
	switch task.Trigger.Data.Kind {
	case canvas.KindPrompt:
		err = e.runPrompt(ctx, ws, ec, task, final)
	case canvas.KindPaperFinder:
		err = e.runPaperFinder(ctx, ws, ec, task, final)
	case canvas.KindPaperQA, canvas.KindPaperQACol:
		err = e.runPaperQA(ctx, ws, ec, task, final)
	default:
		err = fmt.Errorf("unexpected trigger kind %q", task.Trigger.Data.Kind)
	}

	if !e.DryRun {
		e.setState(ws, task.Trigger.ID, canvas.StateActive, "")
	}
	return err
}

// markTask sets the run state on every node a task touches.
func (e *Executor) markTask(ws *Workspace, task planner.Task, state canvas.RunState) {
	if e.DryRun {
		return
	}
	e.setState(ws, task.Trigger.ID, state, "")
	for _, input := range task.Inputs {
		e.setState(ws, input.ID, state, "")
	}
	if task.Output != nil {
		e.setState(ws, task.Output.ID, state, "")
	}
}

// failTask records a handler failure on the task's input nodes. Not fatal
// to the run.
func (e *Executor) failTask(ws *Workspace, task planner.Task, err error) {
	msg := truncate(err.Error(), maxErrorLen)
	e.logger.Warn("task failed",
		slog.String("trigger", task.Trigger.ID),
		slog.String("error", msg),
	)
	if e.DryRun {
		return
	}
	for _, input := range task.Inputs {
		e.setState(ws, input.ID, canvas.StateError, msg)
	}
}

func (e *Executor) setState(ws *Workspace, id string, state canvas.RunState, errMsg string) {
	if err := ws.SetNodeState(id, state, errMsg); err != nil {
		e.logger.Warn("set node state failed",
			slog.String("node", id),
			slog.String("error", err.Error()),
		)
	}
}

// writeResults writes completion results into the task's output node and,
// for the final task of the run, mirrors them into the run's overall
// output node.
func (e *Executor) writeResults(ws *Workspace, ec *Context, task planner.Task, results []provider.Result, final bool) error {
	output := task.Output

	if output.Data.Kind == canvas.KindExternalData {
		return e.transferOut(ws, ec, task, results)
	}

	combined := combineResults(results)
	ec.Responses[output.ID] = combined

	for i, r := range results {
		n := resultNode(r.Title, i)
		if err := ws.InsertNested(output.ID, n); err != nil {
			return fmt.Errorf("insert result node: %w", err)
		}
		if err := ws.SetBody(n.ID, r.Content); err != nil {
			return fmt.Errorf("write result body: %w", err)
		}
		if err := ws.SetTitle(n.ID, r.Title); err != nil {
			return fmt.Errorf("write result title: %w", err)
		}
	}

	switch output.Data.Kind {
	case canvas.KindResponseSingle:
		if len(results) > 0 {
			if err := ws.SetBody(output.ID, results[0].Content); err != nil {
				return err
			}
		}
	case canvas.KindResponseCombined:
		if err := ws.SetBody(output.ID, combined); err != nil {
			return err
		}
	}

	if final {
		return e.writeRunOutput(ws, ec, combined)
	}
	return nil
}

// writeRunOutput mirrors the final task's result into the run's single
// overall output node.
func (e *Executor) writeRunOutput(ws *Workspace, ec *Context, content string) error {
	if ec.Output.ID == "" {
		return nil
	}
	if err := ws.SetBody(ec.Output.ID, content); err != nil {
		return fmt.Errorf("write run output: %w", err)
	}
	return nil
}

// resultNode builds a generated result node laid out on a simple grid.
func resultNode(title string, index int) canvas.Node {
	return canvas.Node{
		ID: uuid.NewString(),
		X:  float64((index % 4) * 280),
		Y:  float64((index / 4) * 180),
		Data: canvas.NodeData{
			Kind:  canvas.KindDefault,
			Title: title,
		},
	}
}

func combineResults(results []provider.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", r.Title, r.Content)
	}
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
