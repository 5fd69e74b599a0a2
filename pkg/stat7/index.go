package stat7

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openmultiverse/stat7hub/pkg/canonical"
)

// Entity (BitChain) and the identity-keyed index.
//
// An entity's ID equals the identity fingerprint of its coordinate, so the
// index doubles as a content-addressed lookup table. Payloads never
// participate in identity.

var (
	ErrDuplicateIdentity = errors.New("stat7: duplicate identity")
	ErrEntityInvalid     = errors.New("stat7: entity invalid")
)

type Entity struct {
	ID         string         `json:"id"` // hex sha256 of the identity set
	Coordinate Coordinate     `json:"coordinate"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// NewEntity builds an entity from a coordinate and an opaque payload.
// The coordinate is normalized and validated; the ID is derived, never chosen.
func NewEntity(c Coordinate, payload map[string]any, now time.Time) (Entity, error) {
	if err := c.Normalize(); err != nil {
		return Entity{}, err
	}
	if err := c.Validate(); err != nil {
		return Entity{}, err
	}
	id, err := c.IdentityHex()
	if err != nil {
		return Entity{}, fmt.Errorf("%w: %v", ErrEntityInvalid, err)
	}
	if payload != nil {
		// Payload must be canonicalizable so the entity can be fingerprinted
		// and shipped over the wire.
		if _, err := canonical.Canonicalize(payload); err != nil {
			return Entity{}, fmt.Errorf("%w: payload: %v", ErrEntityInvalid, err)
		}
	}
	return Entity{
		ID:         id,
		Coordinate: c,
		Payload:    payload,
		CreatedAt:  canonical.FormatTimestamp(now),
	}, nil
}

// Index is the identity-keyed entity table. O(1) expected lookup.
// The orchestrator tick task is the only writer; the mutex keeps reads from
// HTTP snapshot paths safe.
type Index struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

func NewIndex() *Index {
	return &Index{entities: make(map[string]Entity)}
}

// Insert adds an entity. Idempotent when the same identity set is inserted
// again; fails with ErrDuplicateIdentity when the stored entity under the
// same ID carries a different identity set (hash collision guard).
func (ix *Index) Insert(e Entity) error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrEntityInvalid)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	existing, ok := ix.entities[e.ID]
	if !ok {
		ix.entities[e.ID] = e
		return nil
	}
	if !existing.Coordinate.SameIdentity(e.Coordinate) {
		return fmt.Errorf("%w: id %s", ErrDuplicateIdentity, e.ID)
	}
	// Same identity: no-op, the first insert wins.
	return nil
}

// Lookup returns the entity stored under an identity, if any.
func (ix *Index) Lookup(idHex string) (Entity, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entities[idHex]
	return e, ok
}

// Remove deletes an entity by identity. Returns true when present.
func (ix *Index) Remove(idHex string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.entities[idHex]; !ok {
		return false
	}
	delete(ix.entities, idHex)
	return true
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entities)
}
