package inventory

// BlockReplicas returns the block replicas owned by this dataset replica.
func (dr *DatasetReplica) BlockReplicas() []*BlockReplica {
	out := make([]*BlockReplica, 0, len(dr.blockReplicas))
	for _, br := range dr.blockReplicas {
		out = append(out, br)
	}
	return out
}

func (dr *DatasetReplica) addBlockReplica(br *BlockReplica) {
	if dr.blockReplicas == nil {
		dr.blockReplicas = make(map[string]*BlockReplica)
	}
	dr.blockReplicas[br.Block.Name] = br
}

// Equals compares identity only: a DatasetReplica carries no attributes of
// its own beyond (dataset, site) and the set of block replicas it owns,
// which invariant 3 derives rather than stores.
func (dr *DatasetReplica) Equals(other *DatasetReplica) bool {
	return dr.Dataset.Name == other.Dataset.Name && dr.Site.Name == other.Site.Name
}

// CopyFrom is a no-op beyond identity verification: DatasetReplica has no
// independently mutable attributes.
func (dr *DatasetReplica) CopyFrom(other *DatasetReplica) error {
	if dr.Dataset.Name != other.Dataset.Name || dr.Site.Name != other.Site.Name {
		return newObjectError("datasetreplica.copy", "cannot copy replica of %s at %s into replica of %s at %s",
			other.Dataset.Name, other.Site.Name, dr.Dataset.Name, dr.Site.Name)
	}
	return nil
}

// UnlinkedClone returns a standalone DatasetReplica with name-only stubs.
func (dr *DatasetReplica) UnlinkedClone(attrs bool) Entity {
	return &DatasetReplica{Dataset: &Dataset{Name: dr.Dataset.Name}, Site: &Site{Name: dr.Site.Name}}
}

// EmbedInto locates or creates the dataset replica. A DatasetReplica with
// no block replicas is a transient bookkeeping object — it comes into real
// existence only once a BlockReplica.EmbedInto adds to it (invariant 6).
func (dr *DatasetReplica) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	dataset, ok := inv.Datasets[dr.Dataset.Name]
	if !ok {
		return nil, false, newObjectError("datasetreplica.embed", "unknown dataset %s", dr.Dataset.Name)
	}
	site, ok := inv.Sites[dr.Site.Name]
	if !ok {
		return nil, false, newObjectError("datasetreplica.embed", "unknown site %s", dr.Site.Name)
	}

	existing, ok := dataset.FindReplica(site)
	if !ok {
		clone := &DatasetReplica{Dataset: dataset, Site: site}
		dataset.addReplica(clone)
		return clone, true, nil
	}

	if check {
		return existing, false, nil
	}
	return existing, false, nil
}

// DeleteFrom removes the dataset replica and every block replica it owns.
func (dr *DatasetReplica) DeleteFrom(inv *Inventory) ([]Entity, error) {
	dataset, ok := inv.Datasets[dr.Dataset.Name]
	if !ok {
		return nil, newObjectError("datasetreplica.delete", "unknown dataset %s", dr.Dataset.Name)
	}
	site, ok := inv.Sites[dr.Site.Name]
	if !ok {
		return nil, newObjectError("datasetreplica.delete", "unknown site %s", dr.Site.Name)
	}
	existing, ok := dataset.FindReplica(site)
	if !ok {
		return nil, newObjectError("datasetreplica.delete", "no replica of %s at %s", dr.Dataset.Name, dr.Site.Name)
	}

	var affected []Entity
	for _, br := range existing.BlockReplicas() {
		br.Site.removeBlockReplica(br)
		br.Block.removeReplica(br)
		affected = append(affected, br)
	}
	dataset.removeReplica(existing)

	return append(affected, existing), nil
}

// WriteInto dispatches to the persister's dataset-replica upsert/delete.
func (dr *DatasetReplica) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteDatasetReplica(dr)
	}
	return p.SaveDatasetReplica(dr)
}
