package eventlog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openmultiverse/stat7hub/pkg/wire"
)

func envWith(i int) wire.Envelope {
	return wire.Envelope{
		EventType:    wire.EventCrossGame,
		TS:           "2026-08-24T12:00:00.000Z",
		SourceGameID: "tavern-7",
		Data:         map[string]any{"i": i},
	}
}

func TestLog_SequencesFromOne(t *testing.T) {
	l := New(10)
	for i := 1; i <= 3; i++ {
		got, err := l.Append(envWith(i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if got.Seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", got.Seq, i)
		}
	}
	if l.LastSeq() != 3 {
		t.Fatalf("last seq = %d", l.LastSeq())
	}
}

func TestLog_EvictsFIFOKeepingSeq(t *testing.T) {
	l := New(3)
	for i := 1; i <= 5; i++ {
		if _, err := l.Append(envWith(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d", len(snap))
	}
	for i, want := range []uint64{3, 4, 5} {
		if snap[i].Seq != want {
			t.Fatalf("snap[%d].Seq = %d, want %d", i, snap[i].Seq, want)
		}
	}

	st := l.Stats()
	if st.Evicted != 2 || st.OldestSeq != 3 || st.NextSeq != 6 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestLog_Since(t *testing.T) {
	l := New(10)
	for i := 1; i <= 6; i++ {
		if _, err := l.Append(envWith(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tail := l.Since(4)
	if len(tail) != 2 || tail[0].Seq != 5 || tail[1].Seq != 6 {
		t.Fatalf("since(4) = %v", seqs(tail))
	}
	if got := l.Since(6); len(got) != 0 {
		t.Fatalf("since(last) = %v", seqs(got))
	}
	if got := l.Since(0); len(got) != 6 {
		t.Fatalf("since(0) len = %d", len(got))
	}
}

func TestLog_RejectsInvalidEnvelope(t *testing.T) {
	l := New(4)
	_, err := l.Append(wire.Envelope{EventType: "mystery", Data: map[string]any{}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("error %v does not wrap ErrInvalidEnvelope", err)
	}
	if l.LastSeq() != 0 {
		t.Fatal("rejected envelope consumed a sequence number")
	}
}

func TestLog_EmptyStats(t *testing.T) {
	l := New(8)
	st := l.Stats()
	if st.Len != 0 || st.OldestSeq != 0 || st.NextSeq != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if len(l.Snapshot()) != 0 {
		t.Fatal("non-empty snapshot")
	}
}

func seqs(in []wire.Envelope) string {
	out := ""
	for _, e := range in {
		out += fmt.Sprintf("%d,", e.Seq)
	}
	return out
}
