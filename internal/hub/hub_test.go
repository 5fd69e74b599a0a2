package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openmultiverse/stat7hub/internal/orchestrator"
	"github.com/openmultiverse/stat7hub/pkg/config"
	"github.com/openmultiverse/stat7hub/pkg/telemetry"
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

func startHub(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *Hub) {
	t.Helper()
	cfg := config.Default()
	cfg.TickPeriodMS = 5
	cfg.ControlTickDivisor = 1
	if mutate != nil {
		mutate(&cfg)
	}

	orch := orchestrator.New(cfg, telemetry.Nop, telemetry.NewMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Run(ctx)
	}()

	h := New(cfg, telemetry.Nop, orch)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one matches the wanted event type.
func readUntil(t *testing.T, ws *websocket.Conn, want wire.EventType) wire.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = ws.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read (waiting for %s): %v", want, err)
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		if env.EventType == want {
			return env
		}
	}
	t.Fatalf("no %s frame before deadline", want)
	return wire.Envelope{}
}

func TestRegisterOverWebSocket(t *testing.T) {
	srv, _ := startHub(t, nil)
	ws := dial(t, srv)

	send(t, ws, `{"action":"register_game","game_id":"tavern","realm_id":"Golden Dragon",
		"developer_name":"devA","description":"bar","realm_type":"social",
		"adjacency":["hub"],"resonance":0.5,"velocity":0.1,"density":0.0}`)

	env := readUntil(t, ws, wire.EventGameRegistered)
	if env.Seq == 0 || env.TS == "" {
		t.Fatalf("missing server stamps: %+v", env)
	}
	addr, _ := env.Data["address"].(string)
	if !strings.HasPrefix(addr, "stat7://Golden%20Dragon:0/hub/") {
		t.Fatalf("address = %q", addr)
	}

	marker := readUntil(t, ws, wire.EventControlTickComplete)
	if marker.Seq <= env.Seq {
		t.Fatalf("marker seq %d not after registration seq %d", marker.Seq, env.Seq)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := startHub(t, nil)
	ws := dial(t, srv)

	send(t, ws, `{"action":`)
	env := readUntil(t, ws, wire.EventError)
	if env.Data["kind"] != string(wire.KindSchemaError) {
		t.Fatalf("kind = %v", env.Data["kind"])
	}

	// Connection must survive a schema error.
	send(t, ws, `{"action":"list_games"}`)
	list := readUntil(t, ws, wire.EventGameList)
	if list.Data["count"] != float64(0) {
		t.Fatalf("count = %v", list.Data["count"])
	}
}

func TestBinaryFrameRejected(t *testing.T) {
	srv, _ := startHub(t, nil)
	ws := dial(t, srv)

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readUntil(t, ws, wire.EventError)
	if env.Data["kind"] != string(wire.KindSchemaError) {
		t.Fatalf("kind = %v", env.Data["kind"])
	}
}

func TestConnectionCapOverloaded(t *testing.T) {
	srv, h := startHub(t, func(c *config.Config) { c.MaxConnections = 1 })
	first := dial(t, srv)
	send(t, first, `{"action":"list_games"}`)
	readUntil(t, first, wire.EventGameList) // first conn is fully up

	second := dial(t, srv)
	env := readUntil(t, second, wire.EventError)
	if env.Data["kind"] != string(wire.KindOverloaded) {
		t.Fatalf("kind = %v", env.Data["kind"])
	}
	// The refused socket is closed by the server.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := second.ReadMessage(); err != nil {
			break
		}
	}
	if h.Connections() != 1 {
		t.Fatalf("connections = %d", h.Connections())
	}
}

func TestPublishEchoWithSeq(t *testing.T) {
	srv, _ := startHub(t, nil)
	ws := dial(t, srv)

	send(t, ws, `{"action":"register_game","game_id":"tavern","realm_id":"alpha",
		"developer_name":"devA","adjacency":[],"resonance":0.5,"velocity":0.1,"density":0.0}`)
	readUntil(t, ws, wire.EventGameRegistered)

	send(t, ws, `{"action":"publish_event","source_game_id":"tavern",
		"event_type":"announce","data":{"msg":"open"}}`)
	env := readUntil(t, ws, wire.EventCrossGame)
	if env.Data["event_type_detail"] != "announce" || env.Data["msg"] != "open" {
		t.Fatalf("data = %v", env.Data)
	}
	if env.Seq == 0 {
		t.Fatal("echo missing seq")
	}
}
