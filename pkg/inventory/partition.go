package inventory

// Equals compares name and structure (condition identity, sub-partition
// names) but not the store-assigned id.
func (p *Partition) Equals(other *Partition) bool {
	if p.Name != other.Name || len(p.Subpartitions) != len(other.Subpartitions) {
		return false
	}
	for i, sub := range p.Subpartitions {
		if sub.Name != other.Subpartitions[i].Name {
			return false
		}
	}
	return true
}

// CopyFrom overwrites the condition/subpartition structure.
func (p *Partition) CopyFrom(other *Partition) error {
	if p.Name != other.Name {
		return newObjectError("partition.copy", "cannot copy partition %s into partition %s", other.Name, p.Name)
	}
	p.Condition = other.Condition
	p.Subpartitions = other.Subpartitions
	return nil
}

// UnlinkedClone returns a standalone Partition; sub-partitions are cloned
// by identity key only when attrs is false.
func (p *Partition) UnlinkedClone(attrs bool) Entity {
	if !attrs {
		return &Partition{Name: p.Name}
	}
	clone := &Partition{ID: p.ID, Name: p.Name, Condition: p.Condition}
	if len(p.Subpartitions) > 0 {
		clone.Subpartitions = make([]*Partition, len(p.Subpartitions))
		for i, sub := range p.Subpartitions {
			clone.Subpartitions[i] = sub.UnlinkedClone(false).(*Partition)
		}
	}
	return clone
}

// EmbedInto locates or creates the partition inside inv.
func (p *Partition) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	existing, ok := inv.Partitions[p.Name]
	if !ok {
		clone := p.UnlinkedClone(true).(*Partition)
		// Resolve sub-partition names against entities already in inv, per
		// the depth-2 superpartition tree constraint.
		if len(clone.Subpartitions) > 0 {
			resolved := make([]*Partition, len(clone.Subpartitions))
			for i, sub := range clone.Subpartitions {
				real, ok := inv.Partitions[sub.Name]
				if !ok {
					return nil, false, newObjectError("partition.embed", "unknown sub-partition %s", sub.Name)
				}
				resolved[i] = real
			}
			clone.Subpartitions = resolved
		}
		inv.Partitions[clone.Name] = clone
		return clone, true, nil
	}

	if check && existing.Equals(p) {
		return existing, false, nil
	}
	if err := existing.CopyFrom(p); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// DeleteFrom removes the partition from the inventory and from every
// site's per-partition quota map.
func (p *Partition) DeleteFrom(inv *Inventory) ([]Entity, error) {
	existing, ok := inv.Partitions[p.Name]
	if !ok {
		return nil, newObjectError("partition.delete", "unknown partition %s", p.Name)
	}
	delete(inv.Partitions, existing.Name)
	for _, site := range inv.Sites {
		delete(site.partitions, existing.Name)
	}
	return []Entity{existing}, nil
}

// WriteInto dispatches to the persister's partition upsert/delete.
func (p *Partition) WriteInto(per Persister, del bool) error {
	if del {
		return per.DeletePartition(p)
	}
	return per.SavePartition(p)
}
