package orchestrator

import (
	"sync"
	"time"

	"github.com/openmultiverse/stat7hub/pkg/stat7"
)

// Registration lifecycle. Forward-only:
//
//	proposed -> active -> draining -> retired
//
// proposed exists only inside register handling (coordinate validated, index
// insert pending); retired entries are removed from the registry, so stored
// registrations are always active or draining.
type RegState string

const (
	StateProposed RegState = "proposed"
	StateActive   RegState = "active"
	StateDraining RegState = "draining"
	StateRetired  RegState = "retired"
)

type RegStats struct {
	LocalTicks      uint64 `json:"local_ticks"`
	EventsPublished uint64 `json:"events_published"`
}

type Registration struct {
	GameID        string
	RealmID       string
	Developer     string
	Description   string
	RealmType     string
	Coordinate    stat7.Coordinate
	EntityID      string
	Address       string
	RegisteredAt  string
	LastTickAt    string
	LocalTickMS   int
	State         RegState
	Stats         RegStats
	drainDeadline time.Time
}

// Registry maps game_id to its registration. The tick task is the only
// writer, but HTTP snapshot paths read concurrently, so the mutex guards
// the registration fields as well as the map: all field mutation goes
// through Registry methods holding mu.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Registration
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*Registration)}
}

func (r *Registry) Get(gameID string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[gameID]
	return g, ok
}

func (r *Registry) Put(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[reg.GameID] = reg
}

func (r *Registry) Remove(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, gameID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// AdvanceLocalTicks updates the per-game logical clocks for one base tick.
// Returns the number of active games advanced.
func (r *Registry) AdvanceLocalTicks(ts string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.games {
		if g.State != StateActive {
			continue
		}
		g.Stats.LocalTicks++
		g.LastTickAt = ts
		n++
	}
	return n
}

// IncPublished bumps the publish counter for an active game.
func (r *Registry) IncPublished(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.games[gameID]; ok {
		g.Stats.EventsPublished++
	}
}

// BeginDrain moves an active registration into draining: no further
// publishes are accepted, the horizon archives, and retirement is due at
// deadline. Returns false when the game is missing or not active.
func (r *Registry) BeginDrain(gameID string, deadline time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok || g.State != StateActive {
		return false
	}
	g.State = StateDraining
	g.drainDeadline = deadline
	if g.Coordinate.Horizon.CanTransition(stat7.HorizonArchived) {
		g.Coordinate.Horizon = stat7.HorizonArchived
	}
	return true
}

// Retire removes a draining registration and reports its entity id so the
// caller can drop it from the index.
func (r *Registry) Retire(gameID string) (entityID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok {
		return "", false
	}
	g.State = StateRetired
	delete(r.games, gameID)
	return g.EntityID, true
}

// Draining returns game ids in draining state whose deadline has passed.
func (r *Registry) Draining(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, g := range r.games {
		if g.State == StateDraining && !now.Before(g.drainDeadline) {
			out = append(out, id)
		}
	}
	return out
}

// View is the wire shape of a registration used by game_list and
// GET /api/realms.
func (g *Registration) View() map[string]any {
	return map[string]any{
		"game_id":          g.GameID,
		"realm_id":         g.RealmID,
		"developer_name":   g.Developer,
		"description":      g.Description,
		"realm_type":       g.RealmType,
		"address":          g.Address,
		"entity_id":        g.EntityID,
		"state":            string(g.State),
		"registered_at":    g.RegisteredAt,
		"last_tick_at":     g.LastTickAt,
		"local_ticks":      g.Stats.LocalTicks,
		"events_published": g.Stats.EventsPublished,
	}
}

// Views returns all registrations in game_id order-independent slice form.
func (r *Registry) Views() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]any, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g.View())
	}
	return out
}
