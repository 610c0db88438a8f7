package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/executor"
	"github.com/mindloom/mindloom/internal/provider"
	"github.com/mindloom/mindloom/internal/replica"
)

type fakeSession struct {
	doc     *replica.Doc
	flushed int
	closed  int
}

func (s *fakeSession) Doc() *replica.Doc { return s.doc }
func (s *fakeSession) Flush() error      { s.flushed++; return nil }
func (s *fakeSession) Close()            { s.closed++ }

type fakeOpener struct {
	docs     map[string]*replica.Doc
	sessions map[string]*fakeSession
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		docs:     make(map[string]*replica.Doc),
		sessions: make(map[string]*fakeSession),
	}
}

func (o *fakeOpener) Open(_ context.Context, docName string) (DocSession, error) {
	doc, ok := o.docs[docName]
	if !ok {
		doc = replica.New()
		o.docs[docName] = doc
	}
	s := &fakeSession{doc: doc}
	o.sessions[docName] = s
	return s, nil
}

type fakeBuddies struct {
	buddy executor.Buddy
	err   error
}

func (f *fakeBuddies) Fetch(context.Context, string) (executor.Buddy, error) {
	return f.buddy, f.err
}

type fakeStatus struct {
	statuses []Status
}

func (f *fakeStatus) Publish(_ context.Context, s Status) error {
	f.statuses = append(f.statuses, s)
	return nil
}

type fakeCompleter struct {
	requests []provider.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req provider.CompletionRequest) ([]provider.Result, error) {
	f.requests = append(f.requests, req)
	return []provider.Result{{Title: "Done", Content: "result text"}}, nil
}

func (f *fakeCompleter) CompleteTable(context.Context, provider.CompletionRequest) (provider.TableExtraction, error) {
	return provider.TableExtraction{}, errors.New("not used")
}

// seedSkill builds a minimal runnable canvas in the named skill document:
// source -> prompt -> response, plus a detached output node.
func seedSkill(t *testing.T, opener *fakeOpener, skillID string, withInput bool) {
	t.Helper()
	doc := replica.New()
	ws := &executor.Workspace{Run: doc, Space: replica.New()}

	nodes := []canvas.Node{
		{ID: "source", Data: canvas.NodeData{Kind: canvas.KindDefault, Title: "Context"}},
		{ID: "prompt", Data: canvas.NodeData{Kind: canvas.KindPrompt, Title: "Do it"}},
		{ID: "resp", Data: canvas.NodeData{Kind: canvas.KindResponseSingle}},
		{ID: "final", Data: canvas.NodeData{Kind: canvas.KindOutput}},
	}
	edges := []canvas.Edge{
		{ID: "e1", Source: "source", Target: "prompt"},
		{ID: "e2", Source: "prompt", Target: "resp"},
	}
	if withInput {
		nodes = append(nodes, canvas.Node{ID: "in", Data: canvas.NodeData{Kind: canvas.KindInput}})
		edges = append(edges, canvas.Edge{ID: "e3", Source: "in", Target: "prompt"})
	}

	for _, n := range nodes {
		if err := ws.PutNode(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range edges {
		if err := ws.PutEdge(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.SetBody("source", "background info"); err != nil {
		t.Fatal(err)
	}
	opener.docs["method-"+skillID] = doc
}

func newTestRunner(opener *fakeOpener, llm provider.Completer, buddies BuddyFetcher, status StatusPublisher) *Runner {
	exec := executor.New(llm, nil, nil, nil, nil)
	return New(opener, buddies, status, exec, "internal-secret", nil)
}

func TestProcessSeedsAndRuns(t *testing.T) {
	opener := newFakeOpener()
	seedSkill(t, opener, "sk1", false)

	llm := &fakeCompleter{}
	status := &fakeStatus{}
	r := newTestRunner(opener, llm, &fakeBuddies{buddy: executor.Buddy{ID: "b1", Model: "gpt-test"}}, status)

	trig := Trigger{SkillID: "sk1", SkillRunID: "run1", BuddyID: "b1"}
	if err := r.Process(context.Background(), trig); err != nil {
		t.Fatalf("Process: %v", err)
	}

	runDoc := opener.docs["method-run-run1"]
	if runDoc == nil {
		t.Fatal("run document never opened")
	}
	ws := &executor.Workspace{Run: runDoc, Space: replica.New()}
	nodes, err := ws.Nodes()
	if err != nil || len(nodes) != 4 {
		t.Fatalf("run doc nodes = %d, want 4 seeded from skill", len(nodes))
	}

	if len(llm.requests) != 1 {
		t.Fatalf("completion calls = %d", len(llm.requests))
	}
	if got := llm.requests[0].Model; got != "gpt-test" {
		t.Errorf("buddy model not applied: %q", got)
	}

	if got := ws.Body("resp"); got != "result text" {
		t.Errorf("response body = %q", got)
	}
	if got := ws.Body("final"); !strings.Contains(got, "result text") {
		t.Errorf("run output body = %q", got)
	}

	want := []string{StatusRunning, StatusSuccess}
	if len(status.statuses) != len(want) {
		t.Fatalf("statuses = %+v", status.statuses)
	}
	for i, s := range status.statuses {
		if s.Status != want[i] || s.RunID != "run1" {
			t.Errorf("status %d = %+v, want %s", i, s, want[i])
		}
	}
}

func TestProcessInjectsArgument(t *testing.T) {
	opener := newFakeOpener()
	seedSkill(t, opener, "sk1", true)

	llm := &fakeCompleter{}
	r := newTestRunner(opener, llm, &fakeBuddies{}, &fakeStatus{})

	trig := Trigger{SkillID: "sk1", SkillRunID: "run2", BuddyID: "b1", Argument: "the runtime argument"}
	if err := r.Process(context.Background(), trig); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(llm.requests) != 1 {
		t.Fatalf("completion calls = %d", len(llm.requests))
	}
	var found bool
	for _, b := range llm.requests[0].Blocks {
		if b.Title == "Argument" && b.Body == "the runtime argument" {
			found = true
		}
	}
	if !found {
		t.Errorf("argument block missing from prompt: %+v", llm.requests[0].Blocks)
	}
}

func TestProcessResumesNonEmptyRunDoc(t *testing.T) {
	opener := newFakeOpener()
	seedSkill(t, opener, "sk1", false)

	// Pre-populate the run doc with a different canvas.
	runDoc := replica.New()
	ws := &executor.Workspace{Run: runDoc, Space: replica.New()}
	for _, n := range []canvas.Node{
		{ID: "only", Data: canvas.NodeData{Kind: canvas.KindDefault, Title: "Existing"}},
		{ID: "final", Data: canvas.NodeData{Kind: canvas.KindOutput}},
	} {
		if err := ws.PutNode(n); err != nil {
			t.Fatal(err)
		}
	}
	opener.docs["method-run-run3"] = runDoc

	r := newTestRunner(opener, &fakeCompleter{}, &fakeBuddies{}, &fakeStatus{})
	if err := r.Process(context.Background(), Trigger{SkillID: "sk1", SkillRunID: "run3", BuddyID: "b"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	nodes, _ := ws.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("resumed run doc was reseeded: %d nodes", len(nodes))
	}
}

func TestProcessBuddyFailureIsFatal(t *testing.T) {
	opener := newFakeOpener()
	seedSkill(t, opener, "sk1", false)

	llm := &fakeCompleter{}
	status := &fakeStatus{}
	r := newTestRunner(opener, llm, &fakeBuddies{err: fmt.Errorf("buddy not found")}, status)

	err := r.Process(context.Background(), Trigger{SkillID: "sk1", SkillRunID: "run4", BuddyID: "nope"})
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if len(llm.requests) != 0 {
		t.Error("executor ran despite missing buddy")
	}
	last := status.statuses[len(status.statuses)-1]
	if last.Status != StatusError || last.Error == "" {
		t.Errorf("final status = %+v", last)
	}
}

func TestProcessMissingOutputNodeIsFatal(t *testing.T) {
	opener := newFakeOpener()
	doc := replica.New()
	ws := &executor.Workspace{Run: doc, Space: replica.New()}
	if err := ws.PutNode(canvas.Node{ID: "n", Data: canvas.NodeData{Kind: canvas.KindDefault}}); err != nil {
		t.Fatal(err)
	}
	opener.docs["method-sk2"] = doc

	r := newTestRunner(opener, &fakeCompleter{}, &fakeBuddies{}, &fakeStatus{})
	err := r.Process(context.Background(), Trigger{SkillID: "sk2", SkillRunID: "run5", BuddyID: "b"})
	if err == nil || !strings.Contains(err.Error(), "output node") {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessFatalFailureWritesErrorStatusToRunDoc(t *testing.T) {
	opener := newFakeOpener()
	doc := replica.New()
	ws := &executor.Workspace{Run: doc, Space: replica.New()}
	if err := ws.PutNode(canvas.Node{ID: "n", Data: canvas.NodeData{Kind: canvas.KindDefault}}); err != nil {
		t.Fatal(err)
	}
	opener.docs["method-sk7"] = doc

	status := &fakeStatus{}
	r := newTestRunner(opener, &fakeCompleter{}, &fakeBuddies{}, status)
	err := r.Process(context.Background(), Trigger{SkillID: "sk7", SkillRunID: "run7", BuddyID: "b"})
	if err == nil {
		t.Fatal("expected fatal error")
	}

	// Editors watching the run document must see the failure there, not
	// only on the status channel.
	var st Status
	ok, gerr := opener.docs["method-run-run7"].Map("meta").GetJSON("status", &st)
	if gerr != nil || !ok {
		t.Fatalf("run doc status missing: ok=%v err=%v", ok, gerr)
	}
	if st.Status != StatusError || st.Error == "" {
		t.Errorf("run doc status = %+v, want error with message", st)
	}
	if s := opener.sessions["method-run-run7"]; s.flushed == 0 {
		t.Error("run document not flushed after failure")
	}
}

func TestProcessEmptySkillIsFatal(t *testing.T) {
	opener := newFakeOpener()
	r := newTestRunner(opener, &fakeCompleter{}, &fakeBuddies{}, &fakeStatus{})

	err := r.Process(context.Background(), Trigger{SkillID: "ghost", SkillRunID: "run6", BuddyID: "b"})
	if err == nil || !strings.Contains(err.Error(), "no canvas") {
		t.Fatalf("err = %v", err)
	}
}
