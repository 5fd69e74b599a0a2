// Package eventlog holds the bounded, append-only event history behind the
// fan-out stream.
//
// Design Notes:
//   - Sequence numbers are assigned here, at append, starting at 1. They are
//     global across all sources and never reused, even after eviction.
//   - The log is a fixed-capacity ring: when full, the oldest entry is
//     evicted FIFO. Eviction advances the replay floor but never perturbs
//     the sequence counter.
//   - Append is the only mutator. Readers take snapshots; entries are
//     value-copied envelopes and safe to hand to any number of subscribers.
package eventlog

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/openmultiverse/stat7hub/pkg/wire"
)

var ErrInvalidEnvelope = errors.New("eventlog: invalid envelope")

// Stats is a point-in-time view of log occupancy for health and telemetry.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Len       int    `json:"len"`
	NextSeq   uint64 `json:"next_seq"`
	OldestSeq uint64 `json:"oldest_seq"` // 0 when empty
	Evicted   uint64 `json:"evicted"`
}

// Log is a bounded ring of event envelopes with monotonic sequencing.
type Log struct {
	capacity int

	mu   sync.Mutex
	buf  []wire.Envelope
	head int
	size int

	nextSeq uint64
	evicted atomic.Uint64
}

func New(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		capacity: capacity,
		buf:      make([]wire.Envelope, capacity),
		nextSeq:  1,
	}
}

// Append stamps env with the next sequence number, stores it, and returns
// the stamped copy. The oldest entry is evicted when the ring is full.
func (l *Log) Append(env wire.Envelope) (wire.Envelope, error) {
	if err := env.Validate(); err != nil {
		return wire.Envelope{}, errors.Join(ErrInvalidEnvelope, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	env.Seq = l.nextSeq
	l.nextSeq++

	if l.size == l.capacity {
		l.buf[l.head] = wire.Envelope{}
		l.head = (l.head + 1) % l.capacity
		l.size--
		l.evicted.Add(1)
	}
	l.buf[(l.head+l.size)%l.capacity] = env
	l.size++
	return env, nil
}

// Snapshot returns all retained entries in sequence order.
func (l *Log) Snapshot() []wire.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]wire.Envelope, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%l.capacity]
	}
	return out
}

// Since returns retained entries with seq > after, in sequence order.
// Entries older than the replay floor are gone; callers that need a gap
// signal should compare the first returned seq against after+1.
func (l *Log) Since(after uint64) []wire.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]wire.Envelope, 0, l.size)
	for i := 0; i < l.size; i++ {
		e := l.buf[(l.head+i)%l.capacity]
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the sequence of the most recent append, 0 before any.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}

func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Capacity: l.capacity,
		Len:      l.size,
		NextSeq:  l.nextSeq,
		Evicted:  l.evicted.Load(),
	}
	if l.size > 0 {
		s.OldestSeq = l.buf[l.head].Seq
	}
	return s
}
