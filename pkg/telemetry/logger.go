// Package telemetry provides the hub's structured logging and Prometheus
// metrics.
//
// Log records are JSON lines with deterministic field ordering: caller
// fields are sorted by key and rendered as an array of {k,v} pairs so two
// runs over the same inputs produce byte-identical output (timestamps
// aside). Values are sanitized and bounded to keep lines greppable.
package telemetry

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	MaxFields     = 64
	MaxKeyLen     = 64
	MaxValLen     = 512
	MaxMessageLen = 1024
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func rank(l Level) int {
	switch l {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	default:
		return 4
	}
}

// Field is a deterministic key/value pair.
type Field struct {
	K string `json:"k"`
	V string `json:"v"`
}

// Event is a single log record (one JSON line).
type Event struct {
	Ts      string  `json:"ts"`
	Level   Level   `json:"level"`
	Service string  `json:"service,omitempty"`
	Msg     string  `json:"msg"`
	Fields  []Field `json:"fields,omitempty"`
}

type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	service string
	level   Level
	now     func() time.Time
}

// Nop is a safe no-op logger.
var Nop = &Logger{w: io.Discard, level: LevelError, now: time.Now}

// NewLogger creates a JSON-lines logger writing to w (stdout when nil).
func NewLogger(w io.Writer, service string, level Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if level == "" {
		level = LevelInfo
	}
	return &Logger{w: w, service: strings.TrimSpace(service), level: level, now: time.Now}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if l == nil || rank(level) < rank(l.level) {
		return
	}

	ev := Event{
		Ts:      l.now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Service: l.service,
		Msg:     sanitize(msg, MaxMessageLen),
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ev.Fields = make([]Field, 0, len(keys))
		for _, k := range keys {
			k2 := strings.TrimSpace(k)
			if k2 == "" || len(k2) > MaxKeyLen {
				continue
			}
			ev.Fields = append(ev.Fields, Field{K: k2, V: sanitize(fieldValue(fields[k]), MaxValLen)})
			if len(ev.Fields) >= MaxFields {
				break
			}
		}
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(line)
	_, _ = l.w.Write([]byte("\n"))
}

// fieldValue renders common value shapes deterministically; composite values
// fall back to json.Marshal, which sorts map keys.
func fieldValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Duration:
		return x.String()
	case error:
		return x.Error()
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// sanitize trims, truncates, and strips control characters.
func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
