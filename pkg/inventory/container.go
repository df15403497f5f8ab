package inventory

import "sync"

// Inventory is the single source of truth: unique-indexed collections of
// every entity, plus the back-reference graph that EmbedInto/DeleteFrom
// maintain. It is not safe for concurrent mutation — the master daemon
// loop serializes Update/Delete calls under its own write lock; readers
// (the dealer cycle, the application server's poll path) take Lock's
// RLock.
type Inventory struct {
	Lock sync.RWMutex

	Partitions map[string]*Partition
	Groups     map[string]*Group
	Sites      map[string]*Site
	Datasets   map[string]*Dataset

	pendingUpdates []Entity
	pendingDeletes []Entity
}

// New returns an empty inventory seeded with the null group, matching the
// source's Group.null_group singleton.
func New() *Inventory {
	inv := &Inventory{
		Partitions: make(map[string]*Partition),
		Groups:     make(map[string]*Group),
		Sites:      make(map[string]*Site),
		Datasets:   make(map[string]*Dataset),
	}
	inv.Groups[NullGroupName] = &Group{Name: NullGroupName, OLevel: OLevelBlock}
	return inv
}

// NullGroup returns the distinguished unowned group.
func (inv *Inventory) NullGroup() *Group { return inv.Groups[NullGroupName] }

// Update embeds obj into the inventory via its EmbedInto operator. If write
// is true and the embed produced a change, the resulting entity is appended
// to the pending-persistence list for the caller to flush via a Persister.
func (inv *Inventory) Update(obj Entity, write bool) (Entity, error) {
	ent, changed, err := obj.EmbedInto(inv, true)
	if err != nil {
		return nil, err
	}
	if write && changed {
		inv.pendingUpdates = append(inv.pendingUpdates, ent)
	}
	return ent, nil
}

// Delete removes obj (and whatever it cascades to) via its DeleteFrom
// operator. If write is true, every affected entity is appended to the
// pending-deletion list.
func (inv *Inventory) Delete(obj Entity, write bool) ([]Entity, error) {
	affected, err := obj.DeleteFrom(inv)
	if err != nil {
		return nil, err
	}
	if write {
		inv.pendingDeletes = append(inv.pendingDeletes, affected...)
	}
	return affected, nil
}

// DrainPendingUpdates returns and clears the entities queued for
// persistence by Update calls since the last drain.
func (inv *Inventory) DrainPendingUpdates() []Entity {
	pending := inv.pendingUpdates
	inv.pendingUpdates = nil
	return pending
}

// DrainPendingDeletes returns and clears the entities queued for deletion
// since the last drain.
func (inv *Inventory) DrainPendingDeletes() []Entity {
	pending := inv.pendingDeletes
	inv.pendingDeletes = nil
	return pending
}

// CreateProxy returns a read-capturing view suitable for handing to a
// worker sub-process: reads pass through to this inventory, but Update and
// Delete are only legal with write=true and are recorded for IPC replay
// back to the master.
func (inv *Inventory) CreateProxy() *Proxy {
	return &Proxy{inv: inv}
}

// FindBlockFullName resolves "dataset#block" against the inventory,
// returning ObjectError if either half is unknown.
func (inv *Inventory) FindBlockFullName(fullName string) (*Block, error) {
	datasetName, blockName, ok := ParseBlockFullName(fullName)
	if !ok {
		return nil, newObjectError("find_block", "not a block full name: %s", fullName)
	}
	dataset, ok := inv.Datasets[datasetName]
	if !ok {
		return nil, newObjectError("find_block", "unknown dataset %s", datasetName)
	}
	block, ok := dataset.blocks[blockName]
	if !ok {
		return nil, newObjectError("find_block", "unknown block %s", fullName)
	}
	return block, nil
}
