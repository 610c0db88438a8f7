// Package runner executes skill runs: it consumes run triggers, seeds the
// run document from the skill's latest state, plans the canvas, and drives
// the task executor. The sync server persists the run document when the
// runner's connections close.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/google/uuid"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/executor"
	"github.com/mindloom/mindloom/internal/metrics"
	"github.com/mindloom/mindloom/internal/planner"
	"github.com/mindloom/mindloom/internal/replica"
)

// Trigger is one run request from the worker queue.
type Trigger struct {
	SkillID    string `json:"skillId"`
	SkillRunID string `json:"skillRunId"`
	SpaceID    string `json:"spaceId,omitempty"`
	BuddyID    string `json:"buddyId"`
	Argument   string `json:"argument,omitempty"`
}

// Status is the run lifecycle record, written into the run document and
// published for watching clients.
type Status struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// DocSession is one open replicated-document connection.
type DocSession interface {
	Doc() *replica.Doc
	Flush() error
	Close()
}

// DocOpener opens replicated documents by name.
type DocOpener interface {
	Open(ctx context.Context, docName string) (DocSession, error)
}

// BuddyFetcher resolves the LLM persona selected for a run.
type BuddyFetcher interface {
	Fetch(ctx context.Context, buddyID string) (executor.Buddy, error)
}

// StatusPublisher pushes run status transitions to watching clients.
type StatusPublisher interface {
	Publish(ctx context.Context, status Status) error
}

// Runner drives skill runs sequentially. One trigger at a time; a run in
// flight can be cancelled through Cancel.
type Runner struct {
	docs    DocOpener
	buddies BuddyFetcher
	status  StatusPublisher
	exec    *executor.Executor
	token   string
	logger  *slog.Logger

	mu     gosync.Mutex
	active map[string]*executor.CancelFlag
}

// New builds a runner. token is the internal shared secret the runner
// authenticates document connections with.
func New(docs DocOpener, buddies BuddyFetcher, status StatusPublisher, exec *executor.Executor, token string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		docs:    docs,
		buddies: buddies,
		status:  status,
		exec:    exec,
		token:   token,
		logger:  logger,
		active:  make(map[string]*executor.CancelFlag),
	}
}

// Cancel flags the named run. Advisory: the executor observes the flag at
// its next polling point.
func (r *Runner) Cancel(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if flag, ok := r.active[runID]; ok {
		flag.Set()
		r.logger.Info("run cancellation requested", slog.String("run", runID))
	}
}

// Process executes one trigger end to end. Infrastructure failures before
// planning are fatal to the run; per-task failures are not.
func (r *Runner) Process(ctx context.Context, trig Trigger) error {
	r.logger.Info("run started",
		slog.String("run", trig.SkillRunID),
		slog.String("skill", trig.SkillID),
		slog.String("buddy", trig.BuddyID),
	)

	flag := &executor.CancelFlag{}
	r.mu.Lock()
	r.active[trig.SkillRunID] = flag
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, trig.SkillRunID)
		r.mu.Unlock()
	}()

	if err := r.run(ctx, trig, flag); err != nil {
		metrics.RunsTotal.WithLabelValues(StatusError).Inc()
		r.logger.Error("run failed",
			slog.String("run", trig.SkillRunID),
			slog.String("error", err.Error()),
		)
		r.publish(ctx, Status{RunID: trig.SkillRunID, Status: StatusError, Error: err.Error()})
		return err
	}

	metrics.RunsTotal.WithLabelValues(StatusSuccess).Inc()
	r.publish(ctx, Status{RunID: trig.SkillRunID, Status: StatusSuccess})
	r.logger.Info("run finished", slog.String("run", trig.SkillRunID))
	return nil
}

func (r *Runner) run(ctx context.Context, trig Trigger, flag *executor.CancelFlag) error {
	runSession, err := r.docs.Open(ctx, "method-run-"+trig.SkillRunID)
	if err != nil {
		return fmt.Errorf("open run document: %w", err)
	}
	defer runSession.Close()

	var spaceDoc *replica.Doc
	if trig.SpaceID != "" {
		spaceSession, err := r.docs.Open(ctx, "space-"+trig.SpaceID)
		if err != nil {
			return fmt.Errorf("open space document: %w", err)
		}
		defer spaceSession.Close()
		spaceDoc = spaceSession.Doc()
	} else {
		spaceDoc = replica.New()
	}

	ws := &executor.Workspace{Run: runSession.Doc(), Space: spaceDoc}

	// Any failure past this point lands in the run document: connected
	// editors watch meta.status, not the redis channel.
	if err := r.execute(ctx, trig, ws, flag); err != nil {
		r.setRunStatus(ws, Status{RunID: trig.SkillRunID, Status: StatusError, Error: err.Error()})
		if ferr := runSession.Flush(); ferr != nil {
			r.logger.Warn("flush after failed run",
				slog.String("run", trig.SkillRunID),
				slog.String("error", ferr.Error()),
			)
		}
		return err
	}

	r.setRunStatus(ws, Status{RunID: trig.SkillRunID, Status: StatusSuccess})
	if err := runSession.Flush(); err != nil {
		return fmt.Errorf("flush run document: %w", err)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, trig Trigger, ws *executor.Workspace, flag *executor.CancelFlag) error {
	buddy, err := r.buddies.Fetch(ctx, trig.BuddyID)
	if err != nil {
		return fmt.Errorf("fetch buddy %s: %w", trig.BuddyID, err)
	}

	if err := r.seedFromSkill(ctx, trig, ws); err != nil {
		return err
	}
	if trig.Argument != "" {
		if err := r.injectArgument(ws, trig.Argument); err != nil {
			return err
		}
	}
	r.setRunStatus(ws, Status{RunID: trig.SkillRunID, Status: StatusRunning})
	r.publish(ctx, Status{RunID: trig.SkillRunID, Status: StatusRunning})

	c, err := ws.BuildCanvas()
	if err != nil {
		return fmt.Errorf("read run canvas: %w", err)
	}
	tasks, err := planner.Plan(c, r.logger)
	if err != nil {
		return err
	}

	output, err := resolveRunOutput(c)
	if err != nil {
		return err
	}

	ec := executor.NewContext(r.token, trig.SpaceID, tasks, output, buddy)
	return r.exec.Run(ctx, ws, ec, flag)
}

// seedFromSkill copies the skill's latest state into an empty run
// document. Non-empty run documents are resumed as-is.
func (r *Runner) seedFromSkill(ctx context.Context, trig Trigger, ws *executor.Workspace) error {
	if ws.Run.Map("nodes").Len() > 0 {
		return nil
	}

	skillSession, err := r.docs.Open(ctx, "method-"+trig.SkillID)
	if err != nil {
		return fmt.Errorf("open skill document: %w", err)
	}
	defer skillSession.Close()

	if skillSession.Doc().Map("nodes").Len() == 0 {
		return fmt.Errorf("skill %s has no canvas to run", trig.SkillID)
	}
	if err := copyDoc(ws.Run, skillSession.Doc()); err != nil {
		return fmt.Errorf("seed run document: %w", err)
	}
	return nil
}

// copyDoc replicates every root map and text fragment from src into dst.
func copyDoc(dst, src *replica.Doc) error {
	for _, key := range src.Keys() {
		switch src.KindOf(key) {
		case replica.EntryMap:
			srcMap := src.Map(key)
			dstMap := dst.Map(key)
			for _, entryKey := range srcMap.Keys() {
				raw, ok, err := srcMap.Raw(entryKey)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if json.Valid([]byte(raw)) {
					if err := dstMap.SetJSON(entryKey, json.RawMessage(raw)); err != nil {
						return err
					}
				} else {
					if err := dstMap.SetJSON(entryKey, raw); err != nil {
						return err
					}
				}
			}
		case replica.EntryText:
			text, err := src.GetText(key)
			if err != nil {
				return err
			}
			if err := dst.SetText(key, text); err != nil {
				return err
			}
		}
	}
	return nil
}

// injectArgument feeds the trigger argument into the canvas through a
// synthetic node wired to the input node. The planner's input bypass then
// splices the argument into the input node's consumers.
func (r *Runner) injectArgument(ws *executor.Workspace, argument string) error {
	nodes, err := ws.Nodes()
	if err != nil {
		return err
	}

	var input *canvas.Node
	for i := range nodes {
		if nodes[i].Data.Kind == canvas.KindInput {
			input = &nodes[i]
			break
		}
	}
	if input == nil {
		r.logger.Warn("run argument given but canvas has no input node")
		return nil
	}

	synthetic := canvas.Node{
		ID: "argument-" + uuid.NewString(),
		X:  input.X - 320,
		Y:  input.Y,
		Data: canvas.NodeData{
			Kind:  canvas.KindDefault,
			Title: "Argument",
		},
	}
	if err := ws.PutNode(synthetic); err != nil {
		return err
	}
	if err := ws.SetBody(synthetic.ID, argument); err != nil {
		return err
	}
	return ws.PutEdge(canvas.Edge{
		ID:     "edge-" + uuid.NewString(),
		Source: synthetic.ID,
		Target: input.ID,
	})
}

// resolveRunOutput finds the run's overall output node. Its absence is
// fatal before execution begins.
func resolveRunOutput(c canvas.Canvas) (canvas.Node, error) {
	for _, id := range c.Sorted {
		if n := c.Nodes[id]; n.Data.Kind == canvas.KindOutput {
			return n, nil
		}
	}
	return canvas.Node{}, fmt.Errorf("canvas has no output node")
}

// setRunStatus records the lifecycle state inside the run document so
// connected editors see it live.
func (r *Runner) setRunStatus(ws *executor.Workspace, status Status) {
	if err := ws.Run.Map("meta").SetJSON("status", status); err != nil {
		r.logger.Warn("write run status failed", slog.String("error", err.Error()))
	}
}

func (r *Runner) publish(ctx context.Context, status Status) {
	if r.status == nil {
		return
	}
	if err := r.status.Publish(ctx, status); err != nil {
		r.logger.Warn("publish run status failed",
			slog.String("run", status.RunID),
			slog.String("error", err.Error()),
		)
	}
}
