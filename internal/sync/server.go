// Package sync serves duplex document-synchronization connections: binary
// frames carry replica updates, text frames carry small JSON control
// messages. The first server frame on every connection is the full
// document state.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindloom/mindloom/internal/authz"
	"github.com/mindloom/mindloom/internal/docname"
	"github.com/mindloom/mindloom/internal/docstore"
	"github.com/mindloom/mindloom/internal/metrics"
	"github.com/mindloom/mindloom/internal/replica"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

// controlMessage is the JSON payload of text frames.
type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// HubConfig configures the sync hub.
type HubConfig struct {
	Store          docstore.Store
	Auth           *authz.Client
	Archiver       Archiver
	Logger         *slog.Logger
	AllowedOrigins []string
	Debounce       time.Duration
	MaxDebounce    time.Duration
}

// Hub owns the open document rooms and upgrades sync connections.
type Hub struct {
	store    docstore.Store
	auth     *authz.Client
	archiver Archiver
	logger   *slog.Logger

	debounce    time.Duration
	maxDebounce time.Duration

	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader

	mu    gosync.Mutex
	rooms map[string]*room
}

// NewHub builds the hub. Debounce defaults keep persistence off the hot
// edit path without risking unbounded staleness.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.MaxDebounce <= 0 {
		cfg.MaxDebounce = 20 * time.Second
	}

	allowed := make(map[string]bool)
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}

	h := &Hub{
		store:          cfg.Store,
		auth:           cfg.Auth,
		archiver:       cfg.Archiver,
		logger:         logger,
		debounce:       cfg.Debounce,
		maxDebounce:    cfg.MaxDebounce,
		allowedOrigins: allowed,
		rooms:          make(map[string]*room),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	if h.allowedOrigins["*"] || h.allowedOrigins[origin] {
		return true
	}
	h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
	return false
}

// ServeDoc handles one sync connection for the named document. Name
// parsing and authorization happen before the upgrade so failures surface
// as plain HTTP errors.
func (h *Hub) ServeDoc(w http.ResponseWriter, r *http.Request, name string) {
	ref, err := docname.Parse(name)
	if err != nil {
		http.Error(w, `{"error": "unknown document name"}`, http.StatusNotFound)
		return
	}

	token := authz.TokenFromRequest(r)
	level, err := h.auth.Authorize(r.Context(), token, ref)
	if err != nil {
		metrics.AuthRejectionsTotal.Inc()
		h.logger.Warn("sync connection rejected",
			slog.String("doc", ref.Name()),
			slog.String("error", err.Error()),
		)
		http.Error(w, `{"error": "not authorized"}`, http.StatusForbidden)
		return
	}

	rm, err := h.openRoom(r.Context(), ref)
	if err != nil {
		h.logger.Error("open document failed",
			slog.String("doc", ref.Name()),
			slog.String("error", err.Error()),
		)
		http.Error(w, `{"error": "document load failed"}`, http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		room:     rm,
		conn:     conn,
		send:     make(chan []byte, 256),
		readOnly: level < authz.LevelWrite,
	}
	rm.add(c)
	metrics.SyncConnections.Inc()

	// First frame: full state, then the sync confirmation.
	c.send <- rm.doc.EncodeState()
	c.sendControl("synced", "")

	go c.writePump()
	go c.readPump()
}

// openRoom returns the live room for ref, loading persisted state on
// first open.
func (h *Hub) openRoom(ctx context.Context, ref docname.Ref) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rm, ok := h.rooms[ref.Name()]; ok {
		return rm, nil
	}

	doc := replica.New()
	state, err := h.store.Latest(ctx, ref)
	switch {
	case err == nil:
		doc, err = replica.Load(state)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, docstore.ErrNotFound):
		// Fresh document.
	default:
		return nil, err
	}

	rm := newRoom(ref, doc, h)
	h.rooms[ref.Name()] = rm
	metrics.DocumentsOpen.Inc()
	h.logger.Info("document opened", slog.String("doc", ref.Name()))
	return rm, nil
}

// dropClient removes a client from its room and flushes the room when it
// empties.
func (h *Hub) dropClient(c *client) {
	metrics.SyncConnections.Dec()
	if !c.room.remove(c) {
		return
	}

	h.mu.Lock()
	delete(h.rooms, c.room.ref.Name())
	h.mu.Unlock()
	metrics.DocumentsOpen.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c.room.persist(ctx)
	h.logger.Info("document closed", slog.String("doc", c.room.ref.Name()))
}

// Shutdown flushes every dirty room.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, rm := range h.rooms {
		rooms = append(rooms, rm)
	}
	h.mu.Unlock()

	for _, rm := range rooms {
		rm.persist(ctx)
	}
}

// client is one websocket connection bound to a room.
type client struct {
	hub      *Hub
	room     *room
	conn     *websocket.Conn
	send     chan []byte
	readOnly bool
}

func (c *client) sendControl(typ, message string) {
	payload, err := json.Marshal(controlMessage{Type: typ, Message: message})
	if err != nil {
		return
	}
	// Control frames share the send channel with updates; the marker byte
	// tells the write pump to emit a text frame instead.
	select {
	case c.send <- append([]byte{controlMarker}, payload...):
	default:
	}
}

// controlMarker prefixes queued control payloads. Replica update frames
// always begin with the replica format's magic bytes, never 0x00.
const controlMarker = 0x00

func (c *client) readPump() {
	defer func() {
		c.hub.dropClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("sync read failed", slog.String("error", err.Error()))
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			continue
		}
		metrics.SyncMessagesTotal.WithLabelValues("inbound").Inc()

		if c.readOnly {
			c.sendControl("error", "document is read-only for this connection")
			continue
		}

		if err := c.room.apply(data, c); err != nil {
			c.hub.logger.Warn("update rejected",
				slog.String("doc", c.room.ref.Name()),
				slog.String("error", err.Error()),
			)
			c.sendControl("error", "malformed update")
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frameType := websocket.BinaryMessage
			if len(message) > 0 && message[0] == controlMarker {
				frameType = websocket.TextMessage
				message = message[1:]
			}
			if err := c.conn.WriteMessage(frameType, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
