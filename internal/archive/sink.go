// Package archive is an optional write-behind sink that copies every log
// append into a SQL store. The in-memory log stays authoritative for the
// routing window; the archive exists for offline inspection only, so the
// sink never applies backpressure to the tick task: a full queue drops.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openmultiverse/stat7hub/pkg/telemetry"
	"github.com/openmultiverse/stat7hub/pkg/wire"
)

const queueDepth = 1024

const schema = `
CREATE TABLE IF NOT EXISTS hub_events (
	seq            BIGINT PRIMARY KEY,
	event_type     TEXT NOT NULL,
	ts             TEXT NOT NULL,
	source_game_id TEXT,
	target_game_id TEXT,
	envelope       TEXT NOT NULL
)`

type Sink struct {
	db      *sql.DB
	insert  string
	lg      *telemetry.Logger
	ch      chan wire.Envelope
	dropped atomic.Uint64
}

// Open connects to the archive store and ensures the schema. driver is
// "sqlite3" or "postgres"; both are exercised through database/sql, only the
// placeholder syntax differs.
func Open(driver, dsn string, lg *telemetry.Logger) (*Sink, error) {
	if lg == nil {
		lg = telemetry.Nop
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ensure schema: %w", err)
	}

	insert := `INSERT INTO hub_events (seq, event_type, ts, source_game_id, target_game_id, envelope)
		VALUES (?, ?, ?, ?, ?, ?)`
	if driver == "postgres" {
		insert = `INSERT INTO hub_events (seq, event_type, ts, source_game_id, target_game_id, envelope)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (seq) DO NOTHING`
	}

	return &Sink{
		db:     db,
		insert: insert,
		lg:     lg,
		ch:     make(chan wire.Envelope, queueDepth),
	}, nil
}

// Archive queues an envelope for persistence. Called inline by the tick
// task; drops rather than blocks when the writer falls behind.
func (s *Sink) Archive(env wire.Envelope) {
	select {
	case s.ch <- env:
	default:
		s.dropped.Add(1)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case env := <-s.ch:
					s.write(env)
				default:
					return
				}
			}
		case env := <-s.ch:
			s.write(env)
		}
	}
}

func (s *Sink) write(env wire.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		s.lg.Error("archive encode", map[string]any{"seq": env.Seq, "err": err})
		return
	}
	target := ""
	if env.TargetGameID != nil {
		target = *env.TargetGameID
	}
	if _, err := s.db.Exec(s.insert,
		int64(env.Seq), string(env.EventType), env.TS,
		env.SourceGameID, target, string(raw)); err != nil {
		s.lg.Warn("archive insert failed", map[string]any{"seq": env.Seq, "err": err})
	}
}

// Count reports archived rows; used by tests and operators.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hub_events`).Scan(&n)
	return n, err
}

// Dropped reports envelopes discarded under backpressure.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

func (s *Sink) Close() error { return s.db.Close() }
