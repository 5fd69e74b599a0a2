package wire

import (
	"encoding/json"
	"math"
	"strings"
)

// Client commands (v1)
//
// Commands arrive as JSON text frames with a string `action` discriminator.
// Schema validation is centralized here, at ingress; handlers downstream
// receive typed variants and never re-validate shape.

type Command interface {
	Action() string
}

type RegisterGame struct {
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

func (RegisterGame) Action() string { return "register_game" }

type UnregisterGame struct {
	GameID string
}

func (UnregisterGame) Action() string { return "unregister_game" }

type PublishEvent struct {
	SourceGameID string
	TargetGameID *string // nil = broadcast
	EventType    string  // application subtype, carried as data.event_type_detail
	Data         map[string]any
}

func (PublishEvent) Action() string { return "publish_event" }

type Subscribe struct {
	GameIDs []string
}

func (Subscribe) Action() string { return "subscribe" }

type ListGames struct{}

func (ListGames) Action() string { return "list_games" }

type UniverseState struct{}

func (UniverseState) Action() string { return "universe_state" }

// rawCommand mirrors the full union of command fields for decoding.
type rawCommand struct {
	Action        string          `json:"action"`
	GameID        string          `json:"game_id"`
	GameIDs       []string        `json:"game_ids"`
	RealmID       string          `json:"realm_id"`
	DeveloperName string          `json:"developer_name"`
	Description   string          `json:"description"`
	RealmType     string          `json:"realm_type"`
	Adjacency     []string        `json:"adjacency"`
	Resonance     *float64        `json:"resonance"`
	Velocity      *float64        `json:"velocity"`
	Density       *float64        `json:"density"`
	Lineage       *uint64         `json:"lineage"`
	SourceGameID  string          `json:"source_game_id"`
	TargetGameID  *string         `json:"target_game_id"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
}

// ParseCommand decodes and validates a client frame. Failures are *Error
// values with kind SchemaError, ready to surface on the offending socket.
func ParseCommand(frame []byte) (Command, error) {
	var raw rawCommand
	dec := json.NewDecoder(strings.NewReader(string(frame)))
	if err := dec.Decode(&raw); err != nil {
		return nil, Errf(KindSchemaError, "invalid json: %v", err)
	}
	if dec.More() {
		return nil, Errf(KindSchemaError, "trailing data after command")
	}

	action := strings.TrimSpace(raw.Action)
	if action == "" {
		return nil, Errf(KindSchemaError, "action is required")
	}

	switch action {
	case "register_game":
		return parseRegister(raw)
	case "unregister_game":
		if err := requireField("game_id", raw.GameID); err != nil {
			return nil, err
		}
		return UnregisterGame{GameID: strings.TrimSpace(raw.GameID)}, nil
	case "publish_event":
		return parsePublish(raw)
	case "subscribe":
		return parseSubscribe(raw)
	case "list_games":
		return ListGames{}, nil
	case "universe_state":
		return UniverseState{}, nil
	default:
		return nil, Errf(KindSchemaError, "unrecognized action %q", action)
	}
}

func parseRegister(raw rawCommand) (Command, error) {
	for _, f := range []struct{ name, val string }{
		{"game_id", raw.GameID},
		{"realm_id", raw.RealmID},
		{"developer_name", raw.DeveloperName},
	} {
		if err := requireField(f.name, f.val); err != nil {
			return nil, err
		}
	}

	cmd := RegisterGame{
		GameID:        strings.TrimSpace(raw.GameID),
		RealmID:       strings.TrimSpace(raw.RealmID),
		DeveloperName: strings.TrimSpace(raw.DeveloperName),
		Description:   strings.TrimSpace(raw.Description),
		RealmType:     strings.TrimSpace(raw.RealmType),
		Adjacency:     raw.Adjacency,
	}
	var err error
	if cmd.Resonance, err = dimField("resonance", raw.Resonance); err != nil {
		return nil, err
	}
	if cmd.Velocity, err = dimField("velocity", raw.Velocity); err != nil {
		return nil, err
	}
	if cmd.Density, err = dimField("density", raw.Density); err != nil {
		return nil, err
	}
	if raw.Lineage != nil {
		cmd.Lineage = *raw.Lineage
	}
	return cmd, nil
}

func parsePublish(raw rawCommand) (Command, error) {
	if err := requireField("source_game_id", raw.SourceGameID); err != nil {
		return nil, err
	}
	if err := requireField("event_type", raw.EventType); err != nil {
		return nil, err
	}

	data := map[string]any{}
	if len(raw.Data) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(raw.Data)))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, Errf(KindSchemaError, "data must be an object: %v", err)
		}
	}

	var target *string
	if raw.TargetGameID != nil {
		t := strings.TrimSpace(*raw.TargetGameID)
		if t != "" {
			target = &t
		}
	}

	return PublishEvent{
		SourceGameID: strings.TrimSpace(raw.SourceGameID),
		TargetGameID: target,
		EventType:    strings.TrimSpace(raw.EventType),
		Data:         data,
	}, nil
}

func parseSubscribe(raw rawCommand) (Command, error) {
	ids := make([]string, 0, len(raw.GameIDs))
	for _, id := range raw.GameIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, Errf(KindSchemaError, "game_ids entries must be non-empty")
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, Errf(KindSchemaError, "game_ids is required")
	}
	return Subscribe{GameIDs: ids}, nil
}

func requireField(name, val string) error {
	if strings.TrimSpace(val) == "" {
		return Errf(KindSchemaError, "%s is required", name)
	}
	return nil
}

func dimField(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, nil
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, Errf(KindSchemaError, "%s must be finite", name)
	}
	return f, nil
}
