package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openmultiverse/stat7hub/pkg/telemetry"
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

const writeTimeout = 10 * time.Second

// conn adapts one WebSocket to the orchestrator's Subscriber contract.
//
// Ownership: the reader task (the HTTP handler goroutine) decodes frames and
// submits commands; the writer task drains the bounded outbound queue. The
// orchestrator only ever touches Enqueue and Close, neither of which blocks.
type conn struct {
	id string
	ws *websocket.Conn
	lg *telemetry.Logger

	out  chan wire.Envelope
	done chan struct{}

	closeOnce sync.Once
	reasonMu  sync.Mutex
	reason    *wire.Error
}

func newConn(id string, ws *websocket.Conn, queueMax int, lg *telemetry.Logger) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		lg:   lg,
		out:  make(chan wire.Envelope, queueMax),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Enqueue never blocks; a full queue reports false and the orchestrator
// treats that as an overrun.
func (c *conn) Enqueue(env wire.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- env:
		return true
	default:
		return false
	}
}

func (c *conn) Close(reason *wire.Error) {
	c.closeOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()
		close(c.done)
	})
}

// writeLoop is the writer task: it serializes queued envelopes to the socket
// in order and owns the teardown handshake.
func (c *conn) writeLoop() {
	defer c.ws.Close()
	for {
		select {
		case env := <-c.out:
			if !c.writeEnvelope(env) {
				c.Close(nil)
				return
			}
		case <-c.done:
			c.flushAndBye()
			return
		}
	}
}

// flushAndBye drains whatever is already queued (the final universe_state on
// orderly shutdown rides here), ships the close reason if any, and sends the
// WS close frame.
func (c *conn) flushAndBye() {
	for {
		select {
		case env := <-c.out:
			if !c.writeEnvelope(env) {
				return
			}
		default:
			c.reasonMu.Lock()
			reason := c.reason
			c.reasonMu.Unlock()

			code := websocket.CloseNormalClosure
			text := ""
			if reason != nil {
				c.writeEnvelope(wire.ErrorEnvelope(reason.Kind, reason.Msg))
				code = websocket.ClosePolicyViolation
				text = string(reason.Kind)
			}
			deadline := time.Now().Add(writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text), deadline)
			return
		}
	}
}

func (c *conn) writeEnvelope(env wire.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		c.lg.Error("encode outbound envelope", map[string]any{"conn": c.id, "err": err})
		return true // skip the frame, keep the connection
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.lg.Debug("write failed", map[string]any{"conn": c.id, "err": err})
		return false
	}
	return true
}
