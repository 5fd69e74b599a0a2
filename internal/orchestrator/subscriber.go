package orchestrator

import (
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

// Subscriber is the orchestrator's view of an attached connection. The hub
// implements it over a WebSocket writer task; tests implement it in-memory.
//
// Enqueue must never block: it returns false when the subscriber's bounded
// outbound queue is full, which the orchestrator treats as an overrun.
type Subscriber interface {
	ID() string
	Enqueue(env wire.Envelope) bool
	// Close tears the connection down. reason is nil for orderly shutdown.
	Close(reason *wire.Error)
}

// subState is the orchestrator-side bookkeeping for one subscriber.
type subState struct {
	sub Subscriber

	// lastSeq is the highest log seq delivered to this subscriber. Replay
	// sets it; live delivery skips anything at or below it, which is what
	// makes replay-then-live exactly-once.
	lastSeq uint64

	// owned holds game_ids registered over this connection; interests holds
	// explicit subscribe targets. Both feed targeted-event routing.
	owned     map[string]struct{}
	interests map[string]struct{}
}

func newSubState(sub Subscriber) *subState {
	return &subState{
		sub:       sub,
		owned:     make(map[string]struct{}),
		interests: make(map[string]struct{}),
	}
}

// accepts applies the routing policy for one envelope.
//
// Broadcast cross_game_events and every non-cross event go to everyone.
// Targeted events go to subscribers interested in (or owning) the target,
// plus the owner of the source so publishers observe their own echo.
func (st *subState) accepts(env wire.Envelope) bool {
	if env.EventType != wire.EventCrossGame || env.TargetGameID == nil {
		return true
	}
	target := *env.TargetGameID
	if _, ok := st.interests[target]; ok {
		return true
	}
	if _, ok := st.owned[target]; ok {
		return true
	}
	_, ok := st.owned[env.SourceGameID]
	return ok
}
