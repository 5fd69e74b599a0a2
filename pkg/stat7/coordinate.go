package stat7

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/openmultiverse/stat7hub/pkg/canonical"
)

// STAT7 coordinates (v1)
//
// A coordinate places an entity in the seven-dimensional address space used
// for cross-realm routing:
//
//	realm      string   world identifier (immutable)
//	lineage    uint     generation depth from the bootstrap entity (immutable)
//	adjacency  []string append-only neighbour tokens, no duplicates (immutable set for identity)
//	horizon    enum     lifecycle stage, forward-only transitions
//	resonance  [0,1]    semantic alignment (dynamic)
//	velocity   [0,1]    rate of change (dynamic)
//	density    [0,1]    compression distance (dynamic)
//
// The identity of a coordinate is the SHA-256 fingerprint of the canonical
// encoding of {realm, lineage, adjacency}. Dynamic dimensions never
// participate in identity; they are carried for routing and projection.

type Horizon string

const (
	HorizonEmergence       Horizon = "emergence"
	HorizonActive          Horizon = "active"
	HorizonCrystallization Horizon = "crystallization"
	HorizonArchived        Horizon = "archived"
)

var horizonRank = map[Horizon]int{
	HorizonEmergence:       0,
	HorizonActive:          1,
	HorizonCrystallization: 2,
	HorizonArchived:        3,
}

// Valid reports whether h is a recognized lifecycle stage.
func (h Horizon) Valid() bool {
	_, ok := horizonRank[h]
	return ok
}

// CanTransition reports whether moving from h to next respects the
// forward-only lifecycle ordering. Staying in place is allowed.
func (h Horizon) CanTransition(next Horizon) bool {
	a, ok1 := horizonRank[h]
	b, ok2 := horizonRank[next]
	return ok1 && ok2 && b >= a
}

var (
	ErrInvalidCoordinate  = errors.New("stat7: invalid coordinate")
	ErrEmptyRealm         = errors.New("stat7: realm is required")
	ErrDuplicateAdjacency = errors.New("stat7: duplicate adjacency token")
	ErrUnknownHorizon     = errors.New("stat7: unknown horizon")
	ErrDimensionRange     = errors.New("stat7: dynamic dimension outside [0,1]")
)

type Coordinate struct {
	Realm     string   `json:"realm"`
	Lineage   uint64   `json:"lineage"`
	Adjacency []string `json:"adjacency"`
	Horizon   Horizon  `json:"horizon"`
	Resonance float64  `json:"resonance"`
	Velocity  float64  `json:"velocity"`
	Density   float64  `json:"density"`
}

// Normalize trims string tokens and snaps the dynamic dimensions to their
// canonical 8-decimal forms. Call before Validate when ingesting wire input.
func (c *Coordinate) Normalize() error {
	c.Realm = strings.TrimSpace(c.Realm)
	if c.Adjacency != nil {
		adj := make([]string, 0, len(c.Adjacency))
		for _, a := range c.Adjacency {
			adj = append(adj, strings.TrimSpace(a))
		}
		c.Adjacency = adj
	}
	c.Horizon = Horizon(strings.ToLower(strings.TrimSpace(string(c.Horizon))))

	var err error
	if c.Resonance, err = roundDim(c.Resonance); err != nil {
		return err
	}
	if c.Velocity, err = roundDim(c.Velocity); err != nil {
		return err
	}
	if c.Density, err = roundDim(c.Density); err != nil {
		return err
	}
	return nil
}

func roundDim(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCoordinate, ErrDimensionRange)
	}
	return canonical.RoundFloat(f)
}

// Validate checks the coordinate invariants. Expects a normalized coordinate.
func (c Coordinate) Validate() error {
	if strings.TrimSpace(c.Realm) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidCoordinate, ErrEmptyRealm)
	}
	seen := make(map[string]struct{}, len(c.Adjacency))
	for _, a := range c.Adjacency {
		if a == "" {
			return fmt.Errorf("%w: empty adjacency token", ErrInvalidCoordinate)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %w: %q", ErrInvalidCoordinate, ErrDuplicateAdjacency, a)
		}
		seen[a] = struct{}{}
	}
	if !c.Horizon.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidCoordinate, ErrUnknownHorizon, c.Horizon)
	}
	for _, f := range []float64{c.Resonance, c.Velocity, c.Density} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
			return fmt.Errorf("%w: %w: %v", ErrInvalidCoordinate, ErrDimensionRange, f)
		}
	}
	return nil
}

// AppendAdjacency adds a token to the adjacency sequence. The sequence is
// append-only; duplicates are rejected.
func (c *Coordinate) AppendAdjacency(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty adjacency token", ErrInvalidCoordinate)
	}
	for _, a := range c.Adjacency {
		if a == token {
			return fmt.Errorf("%w: %w: %q", ErrInvalidCoordinate, ErrDuplicateAdjacency, token)
		}
	}
	c.Adjacency = append(c.Adjacency, token)
	return nil
}

// IdentitySet returns the immutable subset that defines identity.
func (c Coordinate) IdentitySet() map[string]any {
	adj := make([]any, len(c.Adjacency))
	for i, a := range c.Adjacency {
		adj[i] = a
	}
	return map[string]any{
		"realm":     c.Realm,
		"lineage":   c.Lineage,
		"adjacency": adj,
	}
}

// Identity returns the SHA-256 fingerprint of the identity set.
// Two coordinates with identical identity sets yield identical digests on
// every platform.
func (c Coordinate) Identity() ([32]byte, error) {
	return canonical.Fingerprint(c.IdentitySet())
}

// IdentityHex returns the lowercase hex form of Identity.
func (c Coordinate) IdentityHex() (string, error) {
	sum, err := c.Identity()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// SameIdentity reports whether two coordinates share the immutable subset.
// Comparison is over canonical forms, never raw floats.
func (c Coordinate) SameIdentity(other Coordinate) bool {
	return canonical.Equal(c.IdentitySet(), other.IdentitySet())
}
