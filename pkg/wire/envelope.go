package wire

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/openmultiverse/stat7hub/pkg/canonical"
)

// Event envelope (v1)
//
// Every message on the fan-out stream is a JSON object with a string
// `event_type` and an object `data`. The server assigns `seq` (monotonic,
// from the event log) and `ts` (UTC ISO-8601 milliseconds) on append;
// client-supplied values for either are discarded at ingress.

type EventType string

const (
	EventGameRegistered      EventType = "game_registered"
	EventGameUnregistered    EventType = "game_unregistered"
	EventCrossGame           EventType = "cross_game_event"
	EventControlTickComplete EventType = "control_tick_complete"
	EventUniverseState       EventType = "universe_state"
	EventGameList            EventType = "game_list"
	EventError               EventType = "error"
)

var recognizedEvents = map[EventType]struct{}{
	EventGameRegistered:      {},
	EventGameUnregistered:    {},
	EventCrossGame:           {},
	EventControlTickComplete: {},
	EventUniverseState:       {},
	EventGameList:            {},
	EventError:               {},
}

// Valid reports whether t is one of the recognized envelope event types.
// Application-defined subtypes travel inside cross_game_event as
// data.event_type_detail, never as top-level event types.
func (t EventType) Valid() bool {
	_, ok := recognizedEvents[t]
	return ok
}

type Envelope struct {
	Seq          uint64         `json:"seq,omitempty"`
	EventType    EventType      `json:"event_type"`
	TS           string         `json:"ts,omitempty"`
	SourceGameID string         `json:"source_game_id,omitempty"`
	TargetGameID *string        `json:"target_game_id,omitempty"`
	Data         map[string]any `json:"data"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the envelope is safe to append and ship.
func (e Envelope) Validate() error {
	if !e.EventType.Valid() {
		return Errf(KindSchemaError, "unrecognized event_type %q", e.EventType)
	}
	if e.Data == nil {
		return Errf(KindSchemaError, "data object is required")
	}
	if _, err := canonical.Canonicalize(e.Data); err != nil {
		return Errf(KindSchemaError, "data not canonicalizable: %v", err)
	}
	if e.TS != "" {
		if err := canonical.ValidateTimestamp(e.TS); err != nil {
			return Errf(KindSchemaError, "bad ts: %v", err)
		}
	}
	return nil
}

// Encode renders the envelope as a single JSON text frame.
func (e Envelope) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, Errf(KindInternal, "encode envelope: %v", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ErrorEnvelope builds the per-connection `error` frame for kind.
// Error envelopes are never written to the global event log.
func ErrorEnvelope(kind ErrorKind, msg string) Envelope {
	return Envelope{
		EventType: EventError,
		Data: map[string]any{
			"kind":    string(kind),
			"message": strings.TrimSpace(msg),
		},
	}
}

// ErrorEnvelopeFor maps any error to its wire error frame.
func ErrorEnvelopeFor(err error) Envelope {
	if we, ok := err.(*Error); ok {
		return ErrorEnvelope(we.Kind, we.Msg)
	}
	return ErrorEnvelope(KindInternal, err.Error())
}
