package inventory

// Equals compares persisted attributes only, not identity.
func (br *BlockReplica) Equals(other *BlockReplica) bool {
	return br.Block.FullName() == other.Block.FullName() && br.Site.Name == other.Site.Name &&
		br.Group.Name == other.Group.Name && br.IsComplete == other.IsComplete &&
		br.IsCustodial == other.IsCustodial && br.Size == other.Size && br.LastUpdate.Equal(other.LastUpdate)
}

// CopyFrom overwrites mutable attributes from other. Group is mutable: a
// replica can change owner (e.g. when its prior group is deleted, or when
// the dealer re-owns it) without losing identity.
func (br *BlockReplica) CopyFrom(other *BlockReplica) error {
	if br.Block.FullName() != other.Block.FullName() {
		return newObjectError("blockreplica.copy", "cannot copy a replica of %s into a replica of %s", other.Block.FullName(), br.Block.FullName())
	}
	if br.Site.Name != other.Site.Name {
		return newObjectError("blockreplica.copy", "cannot copy a replica at %s into a replica at %s", other.Site.Name, br.Site.Name)
	}
	br.Group = other.Group
	br.IsComplete = other.IsComplete
	br.IsCustodial = other.IsCustodial
	br.Size = other.Size
	br.LastUpdate = other.LastUpdate
	return nil
}

// UnlinkedClone returns a standalone BlockReplica with name-only stubs for
// block, site and group.
func (br *BlockReplica) UnlinkedClone(attrs bool) Entity {
	blockStub := &Block{Dataset: &Dataset{Name: br.Block.Dataset.Name}, Name: br.Block.Name}
	siteStub := &Site{Name: br.Site.Name}
	groupStub := &Group{Name: br.Group.Name}
	if !attrs {
		return &BlockReplica{Block: blockStub, Site: siteStub, Group: groupStub}
	}
	return &BlockReplica{
		Block: blockStub, Site: siteStub, Group: groupStub,
		IsComplete: br.IsComplete, IsCustodial: br.IsCustodial, Size: br.Size, LastUpdate: br.LastUpdate,
	}
}

// EmbedInto locates or creates the block replica. Creating one implicitly
// creates its DatasetReplica if this is the first block replica of the
// dataset at this site (invariant 1 and invariant 6, taken together).
func (br *BlockReplica) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	dataset, ok := inv.Datasets[br.Block.Dataset.Name]
	if !ok {
		return nil, false, newObjectError("blockreplica.embed", "unknown dataset %s", br.Block.Dataset.Name)
	}
	block, ok := dataset.FindBlock(br.Block.Name)
	if !ok {
		return nil, false, newObjectError("blockreplica.embed", "unknown block %s", br.Block.FullName())
	}
	site, ok := inv.Sites[br.Site.Name]
	if !ok {
		return nil, false, newObjectError("blockreplica.embed", "unknown site %s", br.Site.Name)
	}
	group, ok := inv.Groups[br.Group.Name]
	if !ok {
		return nil, false, newObjectError("blockreplica.embed", "unknown group %s", br.Group.Name)
	}

	existing, ok := block.FindReplica(site)
	if !ok {
		clone := &BlockReplica{
			Block: block, Site: site, Group: group,
			IsComplete: br.IsComplete, IsCustodial: br.IsCustodial, Size: br.Size, LastUpdate: br.LastUpdate,
		}

		dr, ok := dataset.FindReplica(site)
		if !ok {
			dr = &DatasetReplica{Dataset: dataset, Site: site}
			dataset.addReplica(dr)
		}
		dr.addBlockReplica(clone)
		block.addReplica(clone)
		site.addBlockReplica(clone, inv)

		return clone, true, nil
	}

	if check && existing.Equals(br) {
		return existing, false, nil
	}

	if err := existing.CopyFrom(br); err != nil {
		return nil, false, err
	}
	site.updatePartitioning(existing, inv)
	return existing, true, nil
}

// DeleteFrom removes the replica and, if it was the last block replica of
// its dataset replica, the dataset replica too (invariant 6).
func (br *BlockReplica) DeleteFrom(inv *Inventory) ([]Entity, error) {
	dataset, ok := inv.Datasets[br.Block.Dataset.Name]
	if !ok {
		return nil, newObjectError("blockreplica.delete", "unknown dataset %s", br.Block.Dataset.Name)
	}
	block, ok := dataset.FindBlock(br.Block.Name)
	if !ok {
		return nil, newObjectError("blockreplica.delete", "unknown block %s", br.Block.FullName())
	}
	site, ok := inv.Sites[br.Site.Name]
	if !ok {
		return nil, newObjectError("blockreplica.delete", "unknown site %s", br.Site.Name)
	}
	existing, ok := block.FindReplica(site)
	if !ok {
		return nil, newObjectError("blockreplica.delete", "no replica of %s at %s", block.FullName(), site.Name)
	}
	dr, ok := dataset.FindReplica(site)
	if !ok {
		return nil, newObjectError("blockreplica.delete", "no dataset replica of %s at %s", dataset.Name, site.Name)
	}

	unlinkBlockReplica(existing, dr)

	affected := []Entity{existing}
	if len(dr.blockReplicas) == 0 {
		dataset.removeReplica(dr)
		affected = append(affected, dr)
	}
	return affected, nil
}

// unlinkBlockReplica removes br from its site's partitioning, its block's
// replica set, and its dataset replica's block-replica set, without
// deciding whether the now-possibly-empty dataset replica should also be
// removed (callers that own that decision do it themselves).
func unlinkBlockReplica(br *BlockReplica, dr *DatasetReplica) {
	br.Site.removeBlockReplica(br)
	br.Block.removeReplica(br)
	delete(dr.blockReplicas, br.Block.Name)
}

// WriteInto dispatches to the persister's block-replica upsert/delete.
func (br *BlockReplica) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteBlockReplica(br)
	}
	return p.SaveBlockReplica(br)
}
