package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openmultiverse/stat7hub/internal/hub"
	"github.com/openmultiverse/stat7hub/internal/orchestrator"
	"github.com/openmultiverse/stat7hub/pkg/config"
	"github.com/openmultiverse/stat7hub/pkg/telemetry"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.TickPeriodMS = 5
	cfg.ControlTickDivisor = 1

	met := telemetry.NewMetrics()
	orch := orchestrator.New(cfg, telemetry.Nop, met)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Run(ctx)
	}()

	h := hub.New(cfg, telemetry.Nop, orch)
	srv := httptest.NewServer(NewRouter(telemetry.Nop, orch, h, met))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s: status %d", url, resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := startServer(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		body := getJSON(t, srv.URL+"/api/health")
		if body["status"] == "ok" {
			for _, key := range []string{"tick_number", "registered_games", "buffered_events", "connections"} {
				if _, ok := body[key]; !ok {
					t.Fatalf("health missing %s: %v", key, body)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never ok: %v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRealmsReflectsRegistration(t *testing.T) {
	srv := startServer(t)

	body := getJSON(t, srv.URL+"/api/realms")
	if body["count"] != float64(0) {
		t.Fatalf("count = %v", body["count"])
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	frame := `{"action":"register_game","game_id":"tavern","realm_id":"alpha",
		"developer_name":"devA","adjacency":["hub"],"resonance":0.5,"velocity":0.1,"density":0.0}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Wait for the registration to land.
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("read: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		body = getJSON(t, srv.URL+"/api/realms")
		if body["count"] == float64(1) {
			realms := body["realms"].([]any)
			realm := realms[0].(map[string]any)
			if realm["game_id"] != "tavern" || realm["state"] != "active" {
				t.Fatalf("realm = %v", realm)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("registration never visible: %v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := startServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "stat7hub_ticks_total") {
		t.Fatal("hub metrics not exposed")
	}
}
