package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/mindloom/mindloom/internal/docname"
	"github.com/mindloom/mindloom/internal/metrics"
	"github.com/mindloom/mindloom/internal/replica"
)

// room is the in-memory broadcast group for one document. It owns the
// authoritative replica and the debounced persist timer.
type room struct {
	ref docname.Ref
	doc *replica.Doc
	hub *Hub

	mu      gosync.Mutex
	clients map[*client]bool

	// Persist debouncing. deadline is the hard flush bound set at the
	// first unpersisted edit; the timer slides with each edit but never
	// past it.
	timer    *time.Timer
	deadline time.Time
	dirty    bool
}

func newRoom(ref docname.Ref, doc *replica.Doc, hub *Hub) *room {
	return &room{
		ref:     ref,
		doc:     doc,
		hub:     hub,
		clients: make(map[*client]bool),
	}
}

func (r *room) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = true
}

// remove drops a client. Returns true when the room emptied; the hub
// flushes and forgets it.
func (r *room) remove(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	return len(r.clients) == 0
}

// apply merges an inbound update into the replica, rebroadcasts the raw
// bytes to every other client, and schedules a persist.
func (r *room) apply(update []byte, from *client) error {
	if err := r.doc.ApplyUpdate(update); err != nil {
		return err
	}
	r.broadcast(update, from)
	r.schedulePersist()
	return nil
}

// broadcast fans raw update bytes out to every client except the origin.
func (r *room) broadcast(update []byte, from *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- update:
			metrics.SyncMessagesTotal.WithLabelValues("outbound").Inc()
		default:
			r.hub.logger.Warn("client buffer full, dropping update",
				slog.String("doc", r.ref.Name()),
			)
		}
	}
}

// schedulePersist slides the debounce timer, bounded by the max-debounce
// deadline so a long edit burst still flushes.
func (r *room) schedulePersist() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !r.dirty {
		r.dirty = true
		r.deadline = now.Add(r.hub.maxDebounce)
	}

	wait := r.hub.debounce
	if now.Add(wait).After(r.deadline) {
		wait = time.Until(r.deadline)
		if wait < 0 {
			wait = 0
		}
	}

	if r.timer == nil {
		r.timer = time.AfterFunc(wait, r.persistNow)
	} else {
		r.timer.Reset(wait)
	}
}

// persistNow is the timer callback.
func (r *room) persistNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	r.persist(ctx)
}

// persist writes the full state and derived snapshot. Failures keep the
// room dirty so the next edit retries.
func (r *room) persist(ctx context.Context) {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	r.dirty = false
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	start := time.Now()
	state := r.doc.EncodeState()
	snapshot, err := Snapshot(r.ref, r.doc)
	if err != nil {
		r.markDirty()
		metrics.PersistsTotal.WithLabelValues(string(r.ref.Kind), "error").Inc()
		r.hub.logger.Error("snapshot projection failed",
			slog.String("doc", r.ref.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := r.hub.store.Upsert(ctx, r.ref, state, snapshot); err != nil {
		r.markDirty()
		metrics.PersistsTotal.WithLabelValues(string(r.ref.Kind), "error").Inc()
		r.hub.logger.Error("persist failed",
			slog.String("doc", r.ref.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.PersistsTotal.WithLabelValues(string(r.ref.Kind), "ok").Inc()
	metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if r.hub.archiver != nil {
		if err := r.hub.archiver.Archive(ctx, r.ref, snapshot); err != nil {
			r.hub.logger.Warn("snapshot archive failed",
				slog.String("doc", r.ref.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *room) markDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Archiver mirrors persisted snapshots to secondary storage.
type Archiver interface {
	Archive(ctx context.Context, ref docname.Ref, snapshot []byte) error
}
