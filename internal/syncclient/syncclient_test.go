package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mindloom/mindloom/internal/authz"
	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/docstore"
	sync "github.com/mindloom/mindloom/internal/sync"
)

const internalToken = "internal-secret"

func newSyncServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := sync.NewHub(sync.HubConfig{
		Store:       docstore.NewMemoryStore(),
		Auth:        authz.New("http://127.0.0.1:1", internalToken, nil),
		Debounce:    20 * time.Millisecond,
		MaxDebounce: 200 * time.Millisecond,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeDoc(w, r, strings.TrimPrefix(r.URL.Path, "/sync/"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialFlushPropagates(t *testing.T) {
	srv := newSyncServer(t)
	ctx := context.Background()

	a, err := Dial(ctx, srv.URL, "space-s1", internalToken, nil)
	if err != nil {
		t.Fatalf("Dial a: %v", err)
	}
	defer a.Close()

	if err := a.Doc().SetText("n1-document", "hello from a"); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		b, err := Dial(ctx, srv.URL, "space-s1", internalToken, nil)
		if err != nil {
			t.Fatalf("Dial b: %v", err)
		}
		text, _ := b.Doc().GetText("n1-document")
		b.Close()
		if text == "hello from a" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("edit never reached server, last read %q", text)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDialRejectedWithoutToken(t *testing.T) {
	srv := newSyncServer(t)
	if _, err := Dial(context.Background(), srv.URL, "space-s1", "wrong", nil); err == nil {
		t.Fatal("expected dial to fail for unauthorized token")
	}
}

func TestDialerOpensCanvasAndSpace(t *testing.T) {
	srv := newSyncServer(t)
	d := &Dialer{BaseURL: srv.URL}

	remote, err := d.OpenRemote(context.Background(), canvas.ExternalRef{NodeID: "n9", SpaceID: "s9"}, internalToken)
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	defer remote.Close()

	if remote.Canvas == nil || remote.Space == nil {
		t.Fatal("remote docs missing")
	}
}
