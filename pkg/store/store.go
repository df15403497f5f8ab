// Package store implements the persistent-store side of the orchestrator:
// bulk load in dependency order, snapshot+delta persistence via a
// shadow-bucket swap, per-entity upsert/delete, and the content-hash
// version used to detect divergence between replicas. The relational
// schema and SQL text of a real backend are treated as an external
// collaborator per the system's scope — Store is specified purely as an
// interface, and BoltStore is the one concrete (embedded, not relational)
// backend that satisfies it, grounded on the teacher's BoltDB-backed
// storage package.
package store

import "github.com/dynamo-go/dynamo/pkg/inventory"

// LoadFilter narrows a bulk Load to a subset of named partitions, sites or
// datasets. A nil/empty slice means "no filter" for that dimension. This
// stands in for the source's temporary side-table joined into each bulk
// query: here it's just a name-set check applied while iterating buckets.
type LoadFilter struct {
	Partitions []string
	Sites      []string
	Datasets   []string

	// Conditions supplies the leaf Condition implementation for each named
	// partition; a partition loaded without an entry here matches nothing
	// more specific than "everything" (partitions with no named entry are
	// left with a nil Condition, matching unconditionally). The condition
	// expression language itself lives with whatever registers names here.
	Conditions map[string]inventory.Condition
}

func (f LoadFilter) allows(set []string, name string) bool {
	if len(set) == 0 {
		return true
	}
	for _, n := range set {
		if n == name {
			return true
		}
	}
	return false
}

// Store is the full persistent-store surface: bulk load, snapshot swap,
// per-entity upsert/delete (via the embedded Persister), cross-store
// cloning, and the version content hash.
type Store interface {
	inventory.Persister

	// Load populates inv from the store, emitting entities in dependency
	// order (partitions -> groups -> sites -> datasets -> blocks ->
	// replicas) so that EmbedInto always finds its parent already present.
	Load(inv *inventory.Inventory, filter LoadFilter) error

	// SnapshotSwap replaces the store's entire persisted state with inv's
	// current contents in one atomic operation: readers of the old state
	// see a consistent view until the swap commits, and no orphaned rows
	// remain afterward.
	SnapshotSwap(inv *inventory.Inventory) error

	// CloneFrom copies every row of other into this store, used when
	// replacing the persistence backend wholesale.
	CloneFrom(other Store) error

	// Version returns the content hash of the store's persisted state,
	// computed the same way as Inventory.Version so that a Load/Save round
	// trip leaves the hash unchanged.
	Version() (string, error)

	Close() error
}
