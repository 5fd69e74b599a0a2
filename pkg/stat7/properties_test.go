package stat7

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/openmultiverse/stat7hub/pkg/canonical"
)

// Reference entity generator: realms r1..r10, lineage 0..1000, adjacency of
// length 0..3 over a 20-token alphabet, randomized dynamic fields that never
// participate in identity.

var adjacencyAlphabet = func() []string {
	out := make([]string, 20)
	for i := range out {
		out[i] = fmt.Sprintf("adj%02d", i)
	}
	return out
}()

func generateCoordinate(rng *rand.Rand) Coordinate {
	n := rng.Intn(4)
	adj := make([]string, 0, n)
	used := make(map[int]struct{}, n)
	for len(adj) < n {
		k := rng.Intn(len(adjacencyAlphabet))
		if _, ok := used[k]; ok {
			continue
		}
		used[k] = struct{}{}
		adj = append(adj, adjacencyAlphabet[k])
	}
	return Coordinate{
		Realm:     fmt.Sprintf("r%d", rng.Intn(10)+1),
		Lineage:   uint64(rng.Intn(1001)),
		Adjacency: adj,
		Horizon:   HorizonActive,
		Resonance: rng.Float64(),
		Velocity:  rng.Float64(),
		Density:   rng.Float64(),
	}
}

func identityKey(t *testing.T, in map[string]any) string {
	t.Helper()
	b, err := canonical.Canonicalize(in)
	if err != nil {
		t.Fatalf("canonicalize identity input: %v", err)
	}
	return string(b)
}

// Property: over 10,000 generated entities the full identity hash never
// collides for distinct identity sets.
func TestIdentity_CollisionFree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	byHash := make(map[[32]byte]string)
	collisions := 0

	for i := 0; i < 10000; i++ {
		c := generateCoordinate(rng)
		in := c.IdentitySet()
		sum, err := canonical.Fingerprint(in)
		if err != nil {
			t.Fatalf("fingerprint: %v", err)
		}
		key := identityKey(t, in)
		if prev, ok := byHash[sum]; ok && prev != key {
			collisions++
		}
		byHash[sum] = key
	}
	if collisions != 0 {
		t.Fatalf("identity hash collisions: %d", collisions)
	}
}

// Property: dropping any one identity dimension makes distinct identity sets
// collide on the reduced hash.
func TestIdentity_DimensionNecessity(t *testing.T) {
	const n = 50000

	drop := []string{"realm", "lineage", "adjacency"}
	for _, dim := range drop {
		t.Run("drop_"+dim, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			byReduced := make(map[[32]byte]string)
			collisions := 0

			for i := 0; i < n; i++ {
				c := generateCoordinate(rng)
				full := c.IdentitySet()
				fullKey := identityKey(t, full)

				reduced := make(map[string]any, 2)
				for k, v := range full {
					if k != dim {
						reduced[k] = v
					}
				}
				sum, err := canonical.Fingerprint(reduced)
				if err != nil {
					t.Fatalf("fingerprint: %v", err)
				}
				if prevFull, ok := byReduced[sum]; ok && prevFull != fullKey {
					collisions++
				}
				byReduced[sum] = fullKey
			}
			if collisions == 0 {
				t.Fatalf("dropping %s produced no collisions over %d entities", dim, n)
			}
		})
	}
}
