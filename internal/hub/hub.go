// Package hub is the WebSocket fan-out surface: it upgrades connections at
// /ws, runs one reader and one writer task per connection, and bridges
// frames to orchestrator commands.
package hub

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/openmultiverse/stat7hub/internal/orchestrator"
	"github.com/openmultiverse/stat7hub/pkg/config"
	"github.com/openmultiverse/stat7hub/pkg/telemetry"
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

type Hub struct {
	cfg  config.Config
	lg   *telemetry.Logger
	orch *orchestrator.Orchestrator

	upgrader websocket.Upgrader
	conns    atomic.Int64
	nextID   atomic.Uint64
}

func New(cfg config.Config, lg *telemetry.Logger, orch *orchestrator.Orchestrator) *Hub {
	if lg == nil {
		lg = telemetry.Nop
	}
	return &Hub{
		cfg:  cfg,
		lg:   lg,
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Registration is the only gate; realms connect from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS handles GET /ws.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Debug("upgrade failed", map[string]any{"err": err})
		return
	}

	id := fmt.Sprintf("conn-%d", h.nextID.Add(1))
	c := newConn(id, ws, h.cfg.PerSubscriberQueueMax, h.lg)

	if h.conns.Add(1) > int64(h.cfg.MaxConnections) {
		h.conns.Add(-1)
		h.lg.Warn("connection refused", map[string]any{"conn": id, "reason": "overloaded"})
		go c.writeLoop()
		c.Close(wire.Errf(wire.KindOverloaded, "connection capacity exceeded"))
		return
	}

	h.lg.Info("connection open", map[string]any{"conn": id, "remote": r.RemoteAddr})
	go c.writeLoop()
	h.orch.Attach(c)

	h.readLoop(c)

	h.orch.Detach(id)
	c.Close(nil)
	h.conns.Add(-1)
	h.lg.Info("connection closed", map[string]any{"conn": id})
}

// readLoop is the reader task: strictly serial per connection, so commands
// from one client are processed in arrival order.
func (h *Hub) readLoop(c *conn) {
	c.ws.SetReadLimit(int64(h.cfg.MaxFrameBytes))
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			// Oversize frames land here too (gorilla closes with 1009).
			return
		}
		if mt != websocket.TextMessage {
			c.Enqueue(wire.ErrorEnvelope(wire.KindSchemaError, "binary frames are not supported"))
			continue
		}
		cmd, perr := wire.ParseCommand(data)
		if perr != nil {
			c.Enqueue(wire.ErrorEnvelopeFor(perr))
			continue
		}
		h.orch.Submit(c, cmd)
	}
}

// Connections reports the live connection count (health surface).
func (h *Hub) Connections() int64 { return h.conns.Load() }
