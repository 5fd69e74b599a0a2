package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer, level Level) *Logger {
	l := NewLogger(buf, "stat7hub", level)
	l.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestLogger_DeterministicFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.Info("tick complete", map[string]any{
		"zeta":  1,
		"alpha": "x",
		"mid":   true,
	})

	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if ev.Service != "stat7hub" || ev.Level != LevelInfo {
		t.Fatalf("event = %+v", ev)
	}
	got := make([]string, 0, len(ev.Fields))
	for _, f := range ev.Fields {
		got = append(got, f.K)
	}
	if strings.Join(got, ",") != "alpha,mid,zeta" {
		t.Fatalf("field order: %v", got)
	}
}

func TestLogger_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelWarn)

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)

	lines := strings.Count(buf.String(), "\n")
	if lines != 1 {
		t.Fatalf("lines = %d", lines)
	}
}

func TestLogger_SanitizesControlChars(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelInfo)

	l.Info("multi\nline\tmsg", map[string]any{"k": "a\x00b"})
	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Msg != "multilinemsg" {
		t.Fatalf("msg = %q", ev.Msg)
	}
	if ev.Fields[0].V != "ab" {
		t.Fatalf("field = %q", ev.Fields[0].V)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "warning": LevelWarn,
		"error": LevelError, "": LevelInfo, "garbage": LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMetrics_RegisterTwice(t *testing.T) {
	// Two instances must not collide: each carries its own registry.
	a := NewMetrics()
	b := NewMetrics()
	a.TicksTotal.Inc()
	b.Subscribers.Set(3)

	fams, err := a.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("no metric families registered")
	}
}
