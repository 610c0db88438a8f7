package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mindloom/mindloom/internal/docname"
)

func permissionServer(t *testing.T, actionsByToken map[string][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("show_permissions") != "true" {
			t.Errorf("missing show_permissions query, got %q", r.URL.RawQuery)
		}
		token := r.Header.Get("Authorization")
		actions, ok := actionsByToken[token]
		if !ok {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"allowed_actions":[`)
		for i, a := range actions {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%q", a)
		}
		fmt.Fprint(w, `]}`)
	}))
}

func TestAuthorize(t *testing.T) {
	srv := permissionServer(t, map[string][]string{
		"Bearer writer": {"read", "write"},
		"Bearer reader": {"read"},
	})
	defer srv.Close()

	c := New(srv.URL, "internal-secret", nil)
	ref := docname.Ref{Kind: docname.KindSkill, PublicID: "m1"}
	ctx := context.Background()

	t.Run("write permission", func(t *testing.T) {
		level, err := c.Authorize(ctx, "writer", ref)
		if err != nil {
			t.Fatalf("Authorize failed: %v", err)
		}
		if level != LevelWrite {
			t.Errorf("level = %v, want LevelWrite", level)
		}
	})

	t.Run("read only", func(t *testing.T) {
		level, err := c.Authorize(ctx, "reader", ref)
		if err != nil {
			t.Fatalf("Authorize failed: %v", err)
		}
		if level != LevelRead {
			t.Errorf("level = %v, want LevelRead", level)
		}
	})

	t.Run("denied", func(t *testing.T) {
		_, err := c.Authorize(ctx, "stranger", ref)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := c.Authorize(ctx, "", ref)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("internal token bypasses backend", func(t *testing.T) {
		level, err := c.Authorize(ctx, "internal-secret", ref)
		if err != nil {
			t.Fatalf("Authorize failed: %v", err)
		}
		if level != LevelWrite {
			t.Errorf("level = %v, want LevelWrite", level)
		}
	})
}

func TestAuthorizeUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "", nil)
	_, err := c.Authorize(context.Background(), "anything", docname.Ref{Kind: docname.KindSpace, PublicID: "s"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestIsInternalEmptySecret(t *testing.T) {
	c := New("http://localhost", "", nil)
	if c.IsInternal("") {
		t.Error("empty secret must never match")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sync/space-1?token=abc", nil)
	if got := TokenFromRequest(r); got != "abc" {
		t.Errorf("token = %q, want abc", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/sync/space-1", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	if got := TokenFromRequest(r); got != "xyz" {
		t.Errorf("token = %q, want xyz", got)
	}
}
