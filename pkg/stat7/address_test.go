package stat7

import (
	"strings"
	"testing"
)

func TestAddress_KnownLiteral(t *testing.T) {
	c := Coordinate{
		Realm:     "alpha",
		Lineage:   3,
		Adjacency: []string{"x", "y"},
		Horizon:   HorizonActive,
		Resonance: 0.33333333,
		Velocity:  0.125,
		Density:   0,
	}
	if err := c.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	got, err := Address(c)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	want := "stat7://alpha:3/x,y/active?resonance=0.33333333&velocity=0.12500000&density=0.00000000"
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}

	// Identity depends on the immutable subset only.
	id1, err := c.IdentityHex()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	c2 := c
	c2.Resonance = 0.9
	c2.Horizon = HorizonCrystallization
	id2, err := c2.IdentityHex()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id1 != id2 {
		t.Fatal("identity changed with dynamic dimensions")
	}
}

func TestAddress_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		c    Coordinate
	}{
		{
			name: "basic",
			c: Coordinate{
				Realm: "alpha", Lineage: 3, Adjacency: []string{"x", "y"},
				Horizon: HorizonActive, Resonance: 0.33333333, Velocity: 0.125,
			},
		},
		{
			name: "empty_adjacency",
			c: Coordinate{
				Realm: "solo", Lineage: 0, Horizon: HorizonEmergence,
			},
		},
		{
			name: "escaped_tokens",
			c: Coordinate{
				Realm: "Golden Dragon", Lineage: 12,
				Adjacency: []string{"hub/one", "wilds,deep", "a:b"},
				Horizon:   HorizonArchived, Resonance: 1, Velocity: 0.5, Density: 0.00000001,
			},
		},
		{
			name: "unicode_realm",
			c: Coordinate{
				Realm: "北の森", Lineage: 7, Adjacency: []string{"hub"},
				Horizon: HorizonCrystallization, Density: 1,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.c
			if err := c.Normalize(); err != nil {
				t.Fatalf("normalize: %v", err)
			}
			addr, err := Address(c)
			if err != nil {
				t.Fatalf("address: %v", err)
			}
			back, err := ParseAddress(addr)
			if err != nil {
				t.Fatalf("parse %s: %v", addr, err)
			}
			if back.Realm != c.Realm || back.Lineage != c.Lineage || back.Horizon != c.Horizon {
				t.Fatalf("round trip mismatch: %+v vs %+v", back, c)
			}
			if len(back.Adjacency) != len(c.Adjacency) {
				t.Fatalf("adjacency length mismatch: %v vs %v", back.Adjacency, c.Adjacency)
			}
			for i := range c.Adjacency {
				if back.Adjacency[i] != c.Adjacency[i] {
					t.Fatalf("adjacency[%d] mismatch: %q vs %q", i, back.Adjacency[i], c.Adjacency[i])
				}
			}
			if !back.SameIdentity(c) {
				t.Fatal("identity mismatch after round trip")
			}
			// Dynamic dimensions compare through canonical forms.
			addr2, err := Address(back)
			if err != nil {
				t.Fatalf("re-address: %v", err)
			}
			if addr2 != addr {
				t.Fatalf("re-encode mismatch: %s vs %s", addr2, addr)
			}
		})
	}
}

func TestAddress_EmptyAdjacencySegment(t *testing.T) {
	c := Coordinate{Realm: "solo", Horizon: HorizonActive}
	if err := c.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	addr, err := Address(c)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if !strings.Contains(addr, "solo:0//active") {
		t.Fatalf("expected empty adjacency segment, got %s", addr)
	}
}

func TestParseAddress_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"bad_scheme", "http://alpha:1//active?resonance=0&velocity=0&density=0"},
		{"missing_query", "stat7://alpha:1//active"},
		{"missing_lineage", "stat7://alpha//active?resonance=0&velocity=0&density=0"},
		{"bad_lineage", "stat7://alpha:-1//active?resonance=0&velocity=0&density=0"},
		{"bad_horizon", "stat7://alpha:1//nowhere?resonance=0&velocity=0&density=0"},
		{"missing_dim", "stat7://alpha:1//active?resonance=0&velocity=0"},
		{"range_dim", "stat7://alpha:1//active?resonance=2&velocity=0&density=0"},
		{"bad_escape", "stat7://al%GGpha:1//active?resonance=0&velocity=0&density=0"},
		{"extra_segments", "stat7://alpha:1/a/b/active?resonance=0&velocity=0&density=0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAddress(tc.in); err == nil {
				t.Fatalf("expected error for %s", tc.in)
			}
		})
	}
}
