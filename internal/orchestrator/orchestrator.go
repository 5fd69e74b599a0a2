// Package orchestrator is the control-tick core: the single owner of the
// realm registry, the event log, and the subscriber set.
//
// Design Notes:
//   - One tick task owns all mutable state. Connections submit commands and
//     attach/detach requests over a bounded channel of closures; the loop in
//     Run is the only goroutine that touches the registry, log, or routing
//     tables. HTTP snapshot paths read through internal mutexes but never
//     mutate.
//   - Routing is deferred: publishes append to the log immediately (seq is
//     assigned at append, so per-source order is fixed at ingress) and queue
//     for delivery. The next control tick drains the queue, fans envelopes
//     out to subscriber queues, and then appends control_tick_complete, so
//     every event routed during tick N precedes N's completion marker in
//     every stream.
//   - Direct replies (error, game_list, universe_state) go straight to the
//     requesting subscriber and never enter the log.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openmultiverse/stat7hub/internal/eventlog"
	"github.com/openmultiverse/stat7hub/pkg/canonical"
	"github.com/openmultiverse/stat7hub/pkg/config"
	"github.com/openmultiverse/stat7hub/pkg/stat7"
	"github.com/openmultiverse/stat7hub/pkg/telemetry"
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

// Archiver receives every envelope appended to the log. Implementations must
// not block; the tick task calls this inline.
type Archiver interface {
	Archive(env wire.Envelope)
}

type Orchestrator struct {
	cfg config.Config
	lg  *telemetry.Logger
	met *telemetry.Metrics

	log   *eventlog.Log
	index *stat7.Index
	reg   *Registry

	ops chan func()

	subs    map[string]*subState
	pending []wire.Envelope

	tickNumber   uint64
	tickFailures uint64
	prevEvicted  uint64
	startedAt    time.Time
	now          func() time.Time

	archiver Archiver

	// health mirror, updated once per tick so HTTP reads never touch
	// tick-task state directly
	healthMu sync.RWMutex
	health   Health
}

type Health struct {
	Status          string `json:"status"`
	TickNumber      uint64 `json:"tick_number"`
	RegisteredGames int    `json:"registered_games"`
	BufferedEvents  int    `json:"buffered_events"`
	UptimeMS        int64  `json:"uptime_ms"`
	TickFailures    uint64 `json:"tick_failures"`
}

func New(cfg config.Config, lg *telemetry.Logger, met *telemetry.Metrics) *Orchestrator {
	if lg == nil {
		lg = telemetry.Nop
	}
	if met == nil {
		met = telemetry.NewMetrics()
	}
	return &Orchestrator{
		cfg:       cfg,
		lg:        lg,
		met:       met,
		log:       eventlog.New(cfg.BufferMax),
		index:     stat7.NewIndex(),
		reg:       NewRegistry(),
		ops:       make(chan func(), 1024),
		subs:      make(map[string]*subState),
		startedAt: time.Now(),
		now:       time.Now,
		health:    Health{Status: "starting"},
	}
}

// SetArchiver wires an optional event archive sink. Call before Run.
func (o *Orchestrator) SetArchiver(a Archiver) { o.archiver = a }

// Run executes the tick loop until ctx is cancelled, then performs the
// graceful shutdown sequence: drain in-flight commands within the grace
// budget, flush a final control tick, send a final universe_state to every
// subscriber, close all connections.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickPeriod())
	defer ticker.Stop()

	o.publishHealth()
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case op := <-o.ops:
			op()
		case <-ticker.C:
			o.tick()
		}
	}
}

// Attach registers a subscriber with the tick task and replays the retained
// log into its queue before any live event.
func (o *Orchestrator) Attach(sub Subscriber) {
	o.ops <- func() { o.attach(sub) }
}

// Detach removes a subscriber (connection closed from the hub side).
func (o *Orchestrator) Detach(subID string) {
	o.ops <- func() { o.detach(subID) }
}

// Submit hands a parsed command to the tick task. Replies and errors flow
// back through the subscriber's queue.
func (o *Orchestrator) Submit(from Subscriber, cmd wire.Command) {
	o.ops <- func() { o.handle(from, cmd) }
}

// Health returns the last published health snapshot without touching
// tick-task state.
func (o *Orchestrator) Health() Health {
	o.healthMu.RLock()
	defer o.healthMu.RUnlock()
	return o.health
}

// Realms returns the registration snapshot served by /api/realms and the
// game_list command.
func (o *Orchestrator) Realms() []map[string]any { return o.reg.Views() }

// --- tick task internals; everything below runs on the Run goroutine ---

func (o *Orchestrator) tick() {
	o.tickNumber++
	o.met.TicksTotal.Inc()
	o.reg.AdvanceLocalTicks(canonical.FormatTimestamp(o.now()))
	if o.tickNumber%uint64(o.cfg.ControlTickDivisor) == 0 {
		o.controlTick()
	}
	o.publishHealth()
}

func (o *Orchestrator) controlTick() {
	defer func() {
		if r := recover(); r != nil {
			o.tickFailures++
			o.met.TickFailures.Inc()
			o.lg.Error("control tick panicked", map[string]any{
				"tick":  o.tickNumber,
				"panic": fmt.Sprint(r),
			})
		}
	}()

	started := o.now()
	pend := o.pending
	o.pending = nil

	routed := 0
	for _, env := range pend {
		routed += o.deliver(env)
	}
	o.retireDrained(started)

	finished := o.now()
	record := map[string]any{
		"tick_number":   o.tickNumber,
		"started_at":    canonical.FormatTimestamp(started),
		"finished_at":   canonical.FormatTimestamp(finished),
		"games_synced":  o.reg.Len(),
		"events_routed": routed,
		"duration_ms":   finished.Sub(started).Milliseconds(),
	}
	marker, err := o.append(wire.Envelope{
		EventType: wire.EventControlTickComplete,
		TS:        canonical.FormatTimestamp(finished),
		Data:      record,
	})
	if err != nil {
		o.lg.Error("append control tick marker", map[string]any{"err": err})
		return
	}
	o.deliver(marker)

	o.met.ControlTicksTotal.Inc()
	o.met.TickDuration.Observe(finished.Sub(started).Seconds())
	o.lg.Debug("control tick complete", record)
}

// append stamps nothing but seq (callers set ts), writes through to the
// archive sink, and keeps the eviction counter current.
func (o *Orchestrator) append(env wire.Envelope) (wire.Envelope, error) {
	stamped, err := o.log.Append(env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if ev := o.log.Stats().Evicted; ev > o.prevEvicted {
		o.met.LogEvictions.Add(float64(ev - o.prevEvicted))
		o.prevEvicted = ev
	}
	if o.archiver != nil {
		o.archiver.Archive(stamped)
	}
	return stamped, nil
}

// deliver fans one envelope out to every accepting subscriber, skipping any
// that already saw its seq during replay. Returns deliveries made.
func (o *Orchestrator) deliver(env wire.Envelope) int {
	n := 0
	for id, st := range o.subs {
		if env.Seq <= st.lastSeq || !st.accepts(env) {
			continue
		}
		if !st.sub.Enqueue(env) {
			o.overrun(id, st)
			continue
		}
		st.lastSeq = env.Seq
		n++
	}
	o.met.EventsRouted.Add(float64(n))
	return n
}

func (o *Orchestrator) overrun(id string, st *subState) {
	o.met.OverrunsTotal.Inc()
	o.lg.Warn("subscriber overrun", map[string]any{"subscriber": id})
	st.sub.Close(wire.Errf(wire.KindOverrun, "outbound queue exceeded"))
	delete(o.subs, id)
	o.met.Subscribers.Set(float64(len(o.subs)))
}

func (o *Orchestrator) retireDrained(now time.Time) {
	for _, gameID := range o.reg.Draining(now) {
		if entityID, ok := o.reg.Retire(gameID); ok {
			o.index.Remove(entityID)
		}
		o.lg.Info("registration retired", map[string]any{"game_id": gameID})
	}
	o.met.RegisteredGames.Set(float64(o.reg.Len()))
}

func (o *Orchestrator) attach(sub Subscriber) {
	st := newSubState(sub)
	for _, env := range o.log.Snapshot() {
		if !sub.Enqueue(env) {
			o.met.OverrunsTotal.Inc()
			sub.Close(wire.Errf(wire.KindOverrun, "overrun during replay"))
			return
		}
		st.lastSeq = env.Seq
	}
	o.subs[sub.ID()] = st
	o.met.Subscribers.Set(float64(len(o.subs)))
	o.lg.Info("subscriber attached", map[string]any{
		"subscriber": sub.ID(),
		"replayed":   st.lastSeq,
	})
}

func (o *Orchestrator) detach(subID string) {
	if _, ok := o.subs[subID]; !ok {
		return
	}
	delete(o.subs, subID)
	o.met.Subscribers.Set(float64(len(o.subs)))
	o.lg.Info("subscriber detached", map[string]any{"subscriber": subID})
}

func (o *Orchestrator) handle(from Subscriber, cmd wire.Command) {
	var err error
	switch c := cmd.(type) {
	case wire.RegisterGame:
		err = o.registerGame(from, c)
	case wire.UnregisterGame:
		err = o.unregisterGame(c)
	case wire.PublishEvent:
		err = o.publishEvent(c)
	case wire.Subscribe:
		err = o.subscribe(from, c)
	case wire.ListGames:
		o.reply(from, wire.Envelope{
			EventType: wire.EventGameList,
			TS:        canonical.FormatTimestamp(o.now()),
			Data: map[string]any{
				"games": anySlice(o.reg.Views()),
				"count": o.reg.Len(),
			},
		})
	case wire.UniverseState:
		o.reply(from, o.universeEnvelope())
	default:
		err = wire.Errf(wire.KindSchemaError, "unsupported command %q", cmd.Action())
	}
	if err != nil {
		o.lg.Debug("command rejected", map[string]any{
			"action": cmd.Action(),
			"kind":   string(wire.KindOf(err)),
			"err":    err,
		})
		o.reply(from, wire.ErrorEnvelopeFor(err))
	}
}

func (o *Orchestrator) registerGame(from Subscriber, c wire.RegisterGame) error {
	if _, exists := o.reg.Get(c.GameID); exists {
		return wire.Errf(wire.KindDuplicateGameID, "game %q already registered", c.GameID)
	}

	coord := stat7.Coordinate{
		Realm:     c.RealmID,
		Lineage:   c.Lineage,
		Adjacency: c.Adjacency,
		Horizon:   stat7.HorizonEmergence,
		Resonance: c.Resonance,
		Velocity:  c.Velocity,
		Density:   c.Density,
	}
	entity, err := stat7.NewEntity(coord, map[string]any{
		"game_id":        c.GameID,
		"developer_name": c.DeveloperName,
		"description":    c.Description,
		"realm_type":     c.RealmType,
	}, o.now())
	if err != nil {
		return wire.Errf(wire.KindInvalidCoordinate, "%v", err)
	}
	if err := o.index.Insert(entity); err != nil {
		return wire.Errf(wire.KindInvalidCoordinate, "%v", err)
	}

	// proposed -> active: the coordinate moves out of emergence with it.
	coord = entity.Coordinate
	if coord.Horizon.CanTransition(stat7.HorizonActive) {
		coord.Horizon = stat7.HorizonActive
	}
	addr, err := stat7.Address(coord)
	if err != nil {
		return wire.Errf(wire.KindInvalidCoordinate, "%v", err)
	}

	reg := &Registration{
		GameID:       c.GameID,
		RealmID:      c.RealmID,
		Developer:    c.DeveloperName,
		Description:  c.Description,
		RealmType:    c.RealmType,
		Coordinate:   coord,
		EntityID:     entity.ID,
		Address:      addr,
		RegisteredAt: entity.CreatedAt,
		LocalTickMS:  o.cfg.TickPeriodMS,
		State:        StateActive,
	}
	o.reg.Put(reg)
	o.met.RegisteredGames.Set(float64(o.reg.Len()))

	if st, ok := o.subs[from.ID()]; ok {
		st.owned[c.GameID] = struct{}{}
	}

	env, err := o.append(wire.Envelope{
		EventType:    wire.EventGameRegistered,
		TS:           canonical.FormatTimestamp(o.now()),
		SourceGameID: c.GameID,
		Data: map[string]any{
			"game_id":          c.GameID,
			"realm_id":         c.RealmID,
			"developer_name":   c.DeveloperName,
			"entity_id":        entity.ID,
			"address":          addr,
			"realm_coordinate": coordinateData(coord),
		},
	})
	if err != nil {
		return wire.Errf(wire.KindInternal, "append registration: %v", err)
	}
	o.pending = append(o.pending, env)
	o.lg.Info("game registered", map[string]any{"game_id": c.GameID, "address": addr})
	return nil
}

func (o *Orchestrator) unregisterGame(c wire.UnregisterGame) error {
	if !o.reg.BeginDrain(c.GameID, o.now().Add(o.cfg.DrainTimeout())) {
		return wire.Errf(wire.KindUnknownGameID, "game %q not registered", c.GameID)
	}

	env, err := o.append(wire.Envelope{
		EventType:    wire.EventGameUnregistered,
		TS:           canonical.FormatTimestamp(o.now()),
		SourceGameID: c.GameID,
		Data:         map[string]any{"game_id": c.GameID},
	})
	if err != nil {
		return wire.Errf(wire.KindInternal, "append unregistration: %v", err)
	}
	o.pending = append(o.pending, env)
	o.lg.Info("game draining", map[string]any{"game_id": c.GameID})
	return nil
}

func (o *Orchestrator) publishEvent(c wire.PublishEvent) error {
	src, ok := o.reg.Get(c.SourceGameID)
	if !ok || src.State != StateActive {
		return wire.Errf(wire.KindUnknownSource, "source %q not registered", c.SourceGameID)
	}
	if c.TargetGameID != nil {
		t, ok := o.reg.Get(*c.TargetGameID)
		if !ok || t.State != StateActive {
			return wire.Errf(wire.KindUnknownTarget, "target %q not registered", *c.TargetGameID)
		}
	}

	data := make(map[string]any, len(c.Data)+1)
	for k, v := range c.Data {
		data[k] = v
	}
	data["event_type_detail"] = c.EventType

	env, err := o.append(wire.Envelope{
		EventType:    wire.EventCrossGame,
		TS:           canonical.FormatTimestamp(o.now()),
		SourceGameID: c.SourceGameID,
		TargetGameID: c.TargetGameID,
		Data:         data,
	})
	if err != nil {
		return wire.Errf(wire.KindSchemaError, "event data rejected: %v", err)
	}
	o.pending = append(o.pending, env)
	o.reg.IncPublished(c.SourceGameID)
	return nil
}

func (o *Orchestrator) subscribe(from Subscriber, c wire.Subscribe) error {
	st, ok := o.subs[from.ID()]
	if !ok {
		return wire.Errf(wire.KindInternal, "subscriber not attached")
	}
	for _, id := range c.GameIDs {
		if _, exists := o.reg.Get(id); !exists {
			return wire.Errf(wire.KindUnknownGameID, "game %q not registered", id)
		}
	}
	for _, id := range c.GameIDs {
		st.interests[id] = struct{}{}
	}
	return nil
}

func (o *Orchestrator) universeEnvelope() wire.Envelope {
	return wire.Envelope{
		EventType: wire.EventUniverseState,
		TS:        canonical.FormatTimestamp(o.now()),
		Data: map[string]any{
			"tick_number":      o.tickNumber,
			"registered_games": o.reg.Len(),
			"buffered_events":  o.log.Stats().Len,
			"uptime_ms":        time.Since(o.startedAt).Milliseconds(),
		},
	}
}

// reply sends a direct envelope; overruns on direct replies close the
// subscriber like any other.
func (o *Orchestrator) reply(from Subscriber, env wire.Envelope) {
	st, ok := o.subs[from.ID()]
	if !ok {
		// Reply to a connection that never attached (or already fell off);
		// best effort, no bookkeeping.
		_ = from.Enqueue(env)
		return
	}
	if !from.Enqueue(env) {
		o.overrun(from.ID(), st)
	}
}

func (o *Orchestrator) publishHealth() {
	h := Health{
		Status:          "ok",
		TickNumber:      o.tickNumber,
		RegisteredGames: o.reg.Len(),
		BufferedEvents:  o.log.Stats().Len,
		UptimeMS:        time.Since(o.startedAt).Milliseconds(),
		TickFailures:    o.tickFailures,
	}
	o.healthMu.Lock()
	o.health = h
	o.healthMu.Unlock()
}

func (o *Orchestrator) shutdown() {
	// Drain in-flight commands until the channel stays quiet for a short
	// window or the grace budget runs out.
	deadline := time.NewTimer(o.cfg.ShutdownGrace())
	defer deadline.Stop()
drain:
	for {
		select {
		case op := <-o.ops:
			op()
		case <-deadline.C:
			break drain
		case <-time.After(50 * time.Millisecond):
			break drain
		}
	}

	o.tickNumber++
	o.controlTick()

	final := o.universeEnvelope()
	for _, st := range o.subs {
		_ = st.sub.Enqueue(final)
		st.sub.Close(nil)
	}
	o.subs = make(map[string]*subState)
	o.met.Subscribers.Set(0)
	o.lg.Info("orchestrator stopped", map[string]any{"ticks": o.tickNumber})
}

func coordinateData(c stat7.Coordinate) map[string]any {
	adj := make([]any, len(c.Adjacency))
	for i, a := range c.Adjacency {
		adj[i] = a
	}
	return map[string]any{
		"realm":     c.Realm,
		"lineage":   c.Lineage,
		"adjacency": adj,
		"horizon":   string(c.Horizon),
		"resonance": c.Resonance,
		"velocity":  c.Velocity,
		"density":   c.Density,
	}
}

func anySlice(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
