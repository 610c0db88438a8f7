// Package syncclient is the worker-side counterpart of the sync server: it
// opens replicated documents over websocket, keeps a local replica merged,
// and pushes local edits back on a short flush interval.
package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindloom/mindloom/internal/canvas"
	"github.com/mindloom/mindloom/internal/executor"
	"github.com/mindloom/mindloom/internal/replica"
)

const (
	handshakeTimeout = 10 * time.Second
	flushInterval    = 200 * time.Millisecond
)

// Conn is one live document connection.
type Conn struct {
	doc    *replica.Doc
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu gosync.Mutex
	done    chan struct{}
	once    gosync.Once
}

// Dial opens the named document. It blocks until the server's initial
// full-state frame arrives, so the returned replica is never empty-by-race.
func Dial(ctx context.Context, baseURL, docName, token string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse sync url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/sync/" + docName
	u.RawQuery = url.Values{"token": {token}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", docName, err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msgType, state, err := ws.ReadMessage()
	if err != nil || msgType != websocket.BinaryMessage {
		ws.Close()
		return nil, fmt.Errorf("read initial state of %s: %w", docName, err)
	}
	ws.SetReadDeadline(time.Time{})

	doc, err := replica.Load(state)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("load initial state of %s: %w", docName, err)
	}

	c := &Conn{
		doc:    doc,
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.readLoop(docName)
	go c.flushLoop()
	return c, nil
}

// Doc returns the connection's live replica.
func (c *Conn) Doc() *replica.Doc { return c.doc }

// Flush pushes pending local edits immediately.
func (c *Conn) Flush() error {
	update := c.doc.FlushLocal()
	if update == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, update)
}

// Close flushes and tears the connection down. Safe to call twice.
func (c *Conn) Close() {
	c.once.Do(func() {
		if err := c.Flush(); err != nil {
			c.logger.Warn("final flush failed", slog.String("error", err.Error()))
		}
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

func (c *Conn) readLoop(docName string) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("sync read closed",
					slog.String("doc", docName),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := c.doc.ApplyUpdate(data); err != nil {
				c.logger.Warn("inbound update rejected",
					slog.String("doc", docName),
					slog.String("error", err.Error()),
				)
			}
		case websocket.TextMessage:
			var ctrl struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.Type == "error" {
				c.logger.Warn("server reported sync error",
					slog.String("doc", docName),
					slog.String("message", ctrl.Message),
				)
			}
		}
	}
}

func (c *Conn) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Dialer opens remote spaces for the executor. One fresh connection pair
// per open; the executor closes them when the transfer finishes.
type Dialer struct {
	BaseURL string
	Logger  *slog.Logger
}

// OpenRemote connects to the canvas and space documents an external-data
// reference names.
func (d *Dialer) OpenRemote(ctx context.Context, ref canvas.ExternalRef, token string) (*executor.Remote, error) {
	canvasConn, err := Dial(ctx, d.BaseURL, "node-graph-"+ref.NodeID, token, d.Logger)
	if err != nil {
		return nil, err
	}
	spaceConn, err := Dial(ctx, d.BaseURL, "space-"+ref.SpaceID, token, d.Logger)
	if err != nil {
		canvasConn.Close()
		return nil, err
	}

	return executor.NewRemote(canvasConn.Doc(), spaceConn.Doc(), func() {
		canvasConn.Close()
		spaceConn.Close()
	}), nil
}
