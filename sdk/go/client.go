package stat7sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openmultiverse/stat7hub/pkg/wire"
)

// Thin Go SDK client for the stat7hub WebSocket interface.
//
// Design goals:
// - one goroutine owns the socket reader; callers consume Events()
// - fire-and-forget commands with a serialized writer
// - bounded event buffer; a stalled consumer surfaces as ErrBufferFull
//   locally instead of an Overrun disconnect from the hub
// - helpers for the common wait-for-reply patterns

const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultEventBuffer  = 256
)

var (
	ErrClosed     = errors.New("stat7sdk: client closed")
	ErrBufferFull = errors.New("stat7sdk: local event buffer full")
)

type Options struct {
	// EventBuffer caps the locally buffered envelope count. Default 256.
	EventBuffer int
	// DialTimeout bounds the WS handshake. Default 10s.
	DialTimeout time.Duration
}

type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	events  chan wire.Envelope

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// Dial connects to a hub /ws endpoint (ws://host:port/ws).
func Dial(ctx context.Context, url string, opts *Options) (*Client, error) {
	o := Options{EventBuffer: DefaultEventBuffer, DialTimeout: DefaultDialTimeout}
	if opts != nil {
		if opts.EventBuffer > 0 {
			o.EventBuffer = opts.EventBuffer
		}
		if opts.DialTimeout > 0 {
			o.DialTimeout = opts.DialTimeout
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.DialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, strings.TrimSpace(url), nil)
	if err != nil {
		return nil, fmt.Errorf("stat7sdk: dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan wire.Envelope, o.EventBuffer),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Events is the stream of envelopes from the hub: replay first, then live.
// The channel closes when the connection drops; Err reports why.
func (c *Client) Events() <-chan wire.Envelope { return c.events }

// Err returns the terminal read error after Events closes, nil on orderly
// close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		if c.readErr == nil || websocket.IsCloseError(c.readErr, websocket.CloseNormalClosure) {
			return nil
		}
		return c.readErr
	default:
		return nil
	}
}

func (c *Client) readPump() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			c.closeOnce.Do(func() { close(c.done) })
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue // tolerate unknown frames
		}
		select {
		case c.events <- env:
		default:
			c.readErr = ErrBufferFull
			c.closeOnce.Do(func() { close(c.done) })
			_ = c.conn.Close()
			return
		}
	}
}

func (c *Client) send(frame map[string]any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("stat7sdk: encode command: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("stat7sdk: write: %w", err)
	}
	return nil
}

// Registration carries the register_game parameters.
type Registration struct {
	GameID        string
	RealmID       string
	DeveloperName string
	Description   string
	RealmType     string
	Adjacency     []string
	Resonance     float64
	Velocity      float64
	Density       float64
	Lineage       uint64
}

func (c *Client) RegisterGame(reg Registration) error {
	return c.send(map[string]any{
		"action":         "register_game",
		"game_id":        reg.GameID,
		"realm_id":       reg.RealmID,
		"developer_name": reg.DeveloperName,
		"description":    reg.Description,
		"realm_type":     reg.RealmType,
		"adjacency":      reg.Adjacency,
		"resonance":      reg.Resonance,
		"velocity":       reg.Velocity,
		"density":        reg.Density,
		"lineage":        reg.Lineage,
	})
}

func (c *Client) UnregisterGame(gameID string) error {
	return c.send(map[string]any{"action": "unregister_game", "game_id": gameID})
}

// Publish sends a cross-game event. An empty target broadcasts.
func (c *Client) Publish(sourceGameID, target, eventType string, data map[string]any) error {
	frame := map[string]any{
		"action":         "publish_event",
		"source_game_id": sourceGameID,
		"event_type":     eventType,
		"data":           data,
	}
	if target != "" {
		frame["target_game_id"] = target
	}
	return c.send(frame)
}

func (c *Client) Subscribe(gameIDs ...string) error {
	return c.send(map[string]any{"action": "subscribe", "game_ids": gameIDs})
}

func (c *Client) ListGames() error {
	return c.send(map[string]any{"action": "list_games"})
}

func (c *Client) UniverseState() error {
	return c.send(map[string]any{"action": "universe_state"})
}

// WaitFor consumes events until match returns true or ctx expires. Skipped
// envelopes are discarded; use a dedicated consumer when every envelope
// matters.
func (c *Client) WaitFor(ctx context.Context, match func(wire.Envelope) bool) (wire.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return wire.Envelope{}, ctx.Err()
		case env, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return wire.Envelope{}, err
				}
				return wire.Envelope{}, ErrClosed
			}
			if match(env) {
				return env, nil
			}
		}
	}
}

// WaitForType waits for the next envelope of one event type.
func (c *Client) WaitForType(ctx context.Context, t wire.EventType) (wire.Envelope, error) {
	return c.WaitFor(ctx, func(env wire.Envelope) bool { return env.EventType == t })
}

// Close performs the WS close handshake and tears the client down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	deadline := time.Now().Add(DefaultWriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
