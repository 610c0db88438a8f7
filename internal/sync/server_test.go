package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindloom/mindloom/internal/authz"
	"github.com/mindloom/mindloom/internal/docname"
	"github.com/mindloom/mindloom/internal/docstore"
	"github.com/mindloom/mindloom/internal/replica"
)

const internalToken = "internal-secret"

// newTestHub wires a hub against an in-memory store and a stub permission
// backend that grants read access to "reader-token" and nothing else.
func newTestHub(t *testing.T) (*Hub, *docstore.MemoryStore, *httptest.Server) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer reader-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"allowed_actions": ["read"]}`)
	}))
	t.Cleanup(backend.Close)

	store := docstore.NewMemoryStore()
	hub := NewHub(HubConfig{
		Store:       store,
		Auth:        authz.New(backend.URL, internalToken, nil),
		Debounce:    20 * time.Millisecond,
		MaxDebounce: 200 * time.Millisecond,
	})
	return hub, store, backend
}

func newSyncServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/sync/")
		hub.ServeDoc(w, r, name)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, doc, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync/" + doc + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", doc, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads the next frame within the deadline.
func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msgType, data
}

func TestSyncConnectionHandshake(t *testing.T) {
	hub, _, _ := newTestHub(t)
	srv := newSyncServer(t, hub)

	conn := dial(t, srv, "space-alpha", internalToken)

	msgType, state := readFrame(t, conn)
	if msgType != websocket.BinaryMessage {
		t.Fatalf("first frame type = %d, want binary full state", msgType)
	}
	if _, err := replica.Load(state); err != nil {
		t.Fatalf("first frame is not a loadable state: %v", err)
	}

	msgType, payload := readFrame(t, conn)
	if msgType != websocket.TextMessage {
		t.Fatalf("second frame type = %d, want text", msgType)
	}
	var ctrl controlMessage
	if err := json.Unmarshal(payload, &ctrl); err != nil || ctrl.Type != "synced" {
		t.Fatalf("second frame = %s", payload)
	}
}

func TestSyncBroadcastAndPersist(t *testing.T) {
	hub, store, _ := newTestHub(t)
	srv := newSyncServer(t, hub)

	writer := dial(t, srv, "space-beta", internalToken)
	readFrame(t, writer) // state
	readFrame(t, writer) // synced

	observer := dial(t, srv, "space-beta", internalToken)
	readFrame(t, observer)
	readFrame(t, observer)

	local := replica.New()
	if err := local.Map("nodes").SetJSON("n1", map[string]string{"id": "n1", "title": "Hello"}); err != nil {
		t.Fatal(err)
	}
	update := local.FlushLocal()
	if update == nil {
		t.Fatal("no local changes to send")
	}
	if err := writer.WriteMessage(websocket.BinaryMessage, update); err != nil {
		t.Fatalf("send update: %v", err)
	}

	msgType, echoed := readFrame(t, observer)
	if msgType != websocket.BinaryMessage {
		t.Fatalf("observer frame type = %d", msgType)
	}
	mirror := replica.New()
	if err := mirror.ApplyUpdate(echoed); err != nil {
		t.Fatalf("echoed update invalid: %v", err)
	}

	ref := docname.Ref{Kind: docname.KindSpace, PublicID: "beta"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.Latest(context.Background(), ref); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced persist never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	state, err := store.Latest(context.Background(), ref)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	loaded, err := replica.Load(state)
	if err != nil {
		t.Fatalf("persisted state not loadable: %v", err)
	}
	var entry struct {
		Title string `json:"title"`
	}
	ok, err := loaded.Map("nodes").GetJSON("n1", &entry)
	if err != nil || !ok || entry.Title != "Hello" {
		t.Fatalf("persisted doc missing edit: ok=%v err=%v entry=%+v", ok, err, entry)
	}

	snap, err := store.Snapshot(context.Background(), ref)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !strings.Contains(string(snap), "Hello") {
		t.Errorf("snapshot projection missing title: %s", snap)
	}
}

func TestSyncReadOnlyConnectionCannotWrite(t *testing.T) {
	hub, store, _ := newTestHub(t)
	srv := newSyncServer(t, hub)

	conn := dial(t, srv, "space-gamma", "reader-token")
	readFrame(t, conn)
	readFrame(t, conn)

	local := replica.New()
	if err := local.SetText("n1-document", "sneaky edit"); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, local.FlushLocal()); err != nil {
		t.Fatalf("send update: %v", err)
	}

	msgType, payload := readFrame(t, conn)
	if msgType != websocket.TextMessage {
		t.Fatalf("expected error control frame, got type %d", msgType)
	}
	var ctrl controlMessage
	if err := json.Unmarshal(payload, &ctrl); err != nil || ctrl.Type != "error" {
		t.Fatalf("control frame = %s", payload)
	}

	time.Sleep(300 * time.Millisecond)
	ref := docname.Ref{Kind: docname.KindSpace, PublicID: "gamma"}
	if _, err := store.Latest(context.Background(), ref); err == nil {
		t.Error("read-only edit should never persist")
	}
}

func TestSyncRejectsUnknownDocumentName(t *testing.T) {
	hub, _, _ := newTestHub(t)
	srv := newSyncServer(t, hub)

	resp, err := http.Get(srv.URL + "/sync/garbage-name?token=" + internalToken)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSyncRejectsUnauthorizedToken(t *testing.T) {
	hub, _, _ := newTestHub(t)
	srv := newSyncServer(t, hub)

	resp, err := http.Get(srv.URL + "/sync/space-x?token=stranger")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSyncLoadsPersistedStateOnFirstOpen(t *testing.T) {
	hub, store, _ := newTestHub(t)
	srv := newSyncServer(t, hub)

	seed := replica.New()
	if err := seed.SetText("n1-document", "persisted body"); err != nil {
		t.Fatal(err)
	}
	ref := docname.Ref{Kind: docname.KindSkill, PublicID: "m1"}
	if err := store.Upsert(context.Background(), ref, seed.EncodeState(), []byte("{}")); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv, "method-m1", internalToken)
	_, state := readFrame(t, conn)
	loaded, err := replica.Load(state)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if text, _ := loaded.GetText("n1-document"); text != "persisted body" {
		t.Fatalf("first frame missing persisted content: %q", text)
	}
}

func TestSnapshotSpace(t *testing.T) {
	doc := replica.New()
	if err := doc.Map("nodes").SetJSON("n1", map[string]string{"id": "n1", "title": "First"}); err != nil {
		t.Fatal(err)
	}

	snap, err := Snapshot(docname.Ref{Kind: docname.KindSpace, PublicID: "s"}, doc)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var out struct {
		Nodes map[string]string `json:"nodes"`
	}
	if err := json.Unmarshal(snap, &out); err != nil {
		t.Fatal(err)
	}
	if out.Nodes["n1"] != "First" {
		t.Fatalf("projection = %s", snap)
	}
}

func TestSnapshotSkillSkipsEmptyBodies(t *testing.T) {
	doc := replica.New()
	if err := doc.Map("nodes").SetJSON("n1", map[string]string{"id": "n1"}); err != nil {
		t.Fatal(err)
	}
	if err := doc.SetText("n1-document", "has content"); err != nil {
		t.Fatal(err)
	}
	if err := doc.SetText("n2-document", ""); err != nil {
		t.Fatal(err)
	}

	snap, err := Snapshot(docname.Ref{Kind: docname.KindSkillRun, PublicID: "r"}, doc)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(snap, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["nodes"]; !ok {
		t.Error("nodes map missing from projection")
	}
	if _, ok := out["n1-document"]; !ok {
		t.Error("non-empty body missing from projection")
	}
	if _, ok := out["n2-document"]; ok {
		t.Error("empty body should be skipped")
	}
}

func TestSnapshotEditorParsesRichText(t *testing.T) {
	doc := replica.New()
	body := `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hi"}]}]}`
	if err := doc.SetText("document", body); err != nil {
		t.Fatal(err)
	}

	snap, err := Snapshot(docname.Ref{Kind: docname.KindEditor, PublicID: "e"}, doc)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !strings.Contains(string(snap), `"paragraph"`) {
		t.Fatalf("projection = %s", snap)
	}
}
