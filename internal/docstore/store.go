// Package docstore persists replicated document state.
//
// Each row holds the latest binary replica state for one
// (public_id, document_type) pair plus a derived JSON snapshot. The binary
// state is authoritative; the snapshot exists only as a queryable
// projection and is rewritten on every store.
package docstore

import (
	"context"
	"errors"

	"github.com/mindloom/mindloom/internal/docname"
)

// ErrNotFound is returned when no state has been persisted for a ref.
var ErrNotFound = errors.New("document not found")

// Store persists replicated documents.
type Store interface {
	// Upsert writes the binary state and JSON snapshot for ref, inserting
	// or replacing the existing row.
	Upsert(ctx context.Context, ref docname.Ref, state, snapshot []byte) error

	// Latest returns the most recently persisted binary state for ref.
	Latest(ctx context.Context, ref docname.Ref) ([]byte, error)

	// Snapshot returns the persisted JSON snapshot for ref.
	Snapshot(ctx context.Context, ref docname.Ref) ([]byte, error)

	// Close releases underlying resources.
	Close() error
}
