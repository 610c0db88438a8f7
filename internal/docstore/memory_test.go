package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/mindloom/mindloom/internal/docname"
)

func TestMemoryStoreUpsertLatest(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	ref := docname.Ref{Kind: docname.KindSkill, PublicID: "m1"}

	t.Run("missing document", func(t *testing.T) {
		_, err := store.Latest(ctx, ref)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("upsert then load", func(t *testing.T) {
		if err := store.Upsert(ctx, ref, []byte("state-1"), []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		state, err := store.Latest(ctx, ref)
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if string(state) != "state-1" {
			t.Errorf("state = %q", state)
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		if err := store.Upsert(ctx, ref, []byte("state-2"), []byte(`{"v":2}`)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		snap, err := store.Snapshot(ctx, ref)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if string(snap) != `{"v":2}` {
			t.Errorf("snapshot = %q", snap)
		}
	})

	t.Run("type is part of the key", func(t *testing.T) {
		other := docname.Ref{Kind: docname.KindSkillRun, PublicID: "m1"}
		if _, err := store.Latest(ctx, other); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound for same id different type", err)
		}
	})
}
