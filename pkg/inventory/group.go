package inventory

// Equals compares persisted attributes only, not identity.
func (g *Group) Equals(other *Group) bool {
	return g.Name == other.Name && g.OLevel == other.OLevel
}

// CopyFrom overwrites mutable attributes from other. The name is the
// identity key and must already match.
func (g *Group) CopyFrom(other *Group) error {
	if g.Name != other.Name {
		return newObjectError("group.copy", "cannot copy group %s into group %s", other.Name, g.Name)
	}
	g.OLevel = other.OLevel
	return nil
}

// UnlinkedClone returns a standalone Group with no container references.
func (g *Group) UnlinkedClone(attrs bool) Entity {
	if !attrs {
		return &Group{Name: g.Name}
	}
	return &Group{Name: g.Name, OLevel: g.OLevel}
}

// EmbedInto locates or creates the group inside inv, per the null-group
// singleton rule.
func (g *Group) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	existing, ok := inv.Groups[g.Name]
	if !ok {
		clone := g.UnlinkedClone(true).(*Group)
		inv.Groups[clone.Name] = clone
		return clone, true, nil
	}

	if check && existing.Equals(g) {
		return existing, false, nil
	}

	if err := existing.CopyFrom(g); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// DeleteFrom removes the group and rewrites every block replica that
// pointed to it to the null group (invariant 4). The null group itself can
// never be deleted.
func (g *Group) DeleteFrom(inv *Inventory) ([]Entity, error) {
	if g.IsNull() {
		return nil, newObjectError("group.delete", "deletion of null group not allowed")
	}

	existing, ok := inv.Groups[g.Name]
	if !ok {
		return nil, newObjectError("group.delete", "unknown group %s", g.Name)
	}

	delete(inv.Groups, existing.Name)
	null := inv.NullGroup()

	for _, dataset := range inv.Datasets {
		for _, dr := range dataset.replicas {
			for _, br := range dr.blockReplicas {
				if br.Group == existing {
					br.Group = null
				}
			}
		}
	}

	// The reassigned replicas are deliberately not included in the
	// returned set: affected entities flow into Inventory.pendingDeletes,
	// which the daemon persists with WriteInto(store, delete=true) — that
	// would issue a DeleteBlockReplica for a replica that still exists,
	// merely re-owned. Durably recording the reassignment is the store's
	// job: Persister.DeleteGroup rewrites every block_replicas row owned
	// by this group to the null group in the same transaction as the
	// group delete (see BoltStore.DeleteGroup), so the in-memory and
	// on-disk states agree without a second write path here.
	return []Entity{existing}, nil
}

// WriteInto dispatches to the persister's group upsert/delete. The null
// group is never persisted.
func (g *Group) WriteInto(p Persister, del bool) error {
	if g.IsNull() {
		return nil
	}
	if del {
		return p.DeleteGroup(g)
	}
	return p.SaveGroup(g)
}
