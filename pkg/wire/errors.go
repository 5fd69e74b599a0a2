package wire

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ErrorKind is a stable error code surfaced to clients in `error` envelopes.
// Once published, kinds are API-stable.
type ErrorKind string

const (
	KindSchemaError       ErrorKind = "SchemaError"
	KindDuplicateGameID   ErrorKind = "DuplicateGameId"
	KindUnknownGameID     ErrorKind = "UnknownGameId"
	KindUnknownSource     ErrorKind = "UnknownSource"
	KindUnknownTarget     ErrorKind = "UnknownTarget"
	KindInvalidCoordinate ErrorKind = "InvalidCoordinate"
	KindOverrun           ErrorKind = "Overrun"
	KindOverloaded        ErrorKind = "Overloaded"
	KindInternal          ErrorKind = "Internal"
)

// KindMeta provides metadata useful for connection handling and documentation.
type KindMeta struct {
	Fatal       bool   `json:"fatal"` // fatal kinds terminate the connection
	Description string `json:"description"`
}

var kindRegistry = map[ErrorKind]KindMeta{
	KindSchemaError:       {Fatal: false, Description: "malformed frame or missing required field"},
	KindDuplicateGameID:   {Fatal: false, Description: "game_id already registered"},
	KindUnknownGameID:     {Fatal: false, Description: "game_id not registered"},
	KindUnknownSource:     {Fatal: false, Description: "source_game_id not registered"},
	KindUnknownTarget:     {Fatal: false, Description: "target_game_id not registered"},
	KindInvalidCoordinate: {Fatal: false, Description: "coordinate failed invariants"},
	KindOverrun:           {Fatal: true, Description: "subscriber outbound queue exceeded"},
	KindOverloaded:        {Fatal: true, Description: "connection capacity exceeded"},
	KindInternal:          {Fatal: false, Description: "internal error; command dropped"},
}

// Meta returns metadata for a kind.
func Meta(kind ErrorKind) (KindMeta, bool) {
	m, ok := kindRegistry[kind]
	return m, ok
}

// Known reports whether the kind is registered.
func Known(kind ErrorKind) bool {
	_, ok := kindRegistry[kind]
	return ok
}

// Kinds returns all known kinds sorted.
func Kinds() []ErrorKind {
	out := make([]ErrorKind, 0, len(kindRegistry))
	for k := range kindRegistry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportKindsJSON returns stable JSON of all kinds + meta.
func ExportKindsJSON() []byte {
	type row struct {
		Kind ErrorKind `json:"kind"`
		Meta KindMeta  `json:"meta"`
	}
	kinds := Kinds()
	rows := make([]row, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, row{Kind: k, Meta: kindRegistry[k]})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return []byte("[]")
	}
	return b
}

// Error is a wire-surfaced failure carrying a stable kind.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire: %s: %s", e.Kind, e.Msg)
}

// Errf builds a wire error with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) ErrorKind {
	if we, ok := err.(*Error); ok {
		return we.Kind
	}
	return KindInternal
}
