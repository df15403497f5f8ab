package inventory

// Equals compares persisted attributes only, not identity or partitioning.
func (s *Site) Equals(other *Site) bool {
	return s.Name == other.Name && s.Host == other.Host &&
		s.StorageType == other.StorageType && s.Backend == other.Backend &&
		s.Status == other.Status
}

// CopyFrom overwrites mutable attributes from other.
func (s *Site) CopyFrom(other *Site) error {
	if s.Name != other.Name {
		return newObjectError("site.copy", "cannot copy site %s into site %s", other.Name, s.Name)
	}
	s.Host = other.Host
	s.StorageType = other.StorageType
	s.Backend = other.Backend
	s.Status = other.Status
	return nil
}

// UnlinkedClone returns a standalone Site with no partition membership.
func (s *Site) UnlinkedClone(attrs bool) Entity {
	if !attrs {
		return &Site{Name: s.Name}
	}
	return &Site{Name: s.Name, Host: s.Host, StorageType: s.StorageType, Backend: s.Backend, Status: s.Status}
}

// EmbedInto locates or creates the site inside inv.
func (s *Site) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	existing, ok := inv.Sites[s.Name]
	if !ok {
		clone := s.UnlinkedClone(true).(*Site)
		clone.partitions = make(map[string]*SitePartition)
		inv.Sites[clone.Name] = clone
		return clone, true, nil
	}

	if check && existing.Equals(s) {
		return existing, false, nil
	}
	if err := existing.CopyFrom(s); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// DeleteFrom removes the site. Per the source's scope, a site can only be
// deleted once it holds no replicas; the caller is responsible for having
// deleted every dataset replica at this site first.
func (s *Site) DeleteFrom(inv *Inventory) ([]Entity, error) {
	existing, ok := inv.Sites[s.Name]
	if !ok {
		return nil, newObjectError("site.delete", "unknown site %s", s.Name)
	}
	for _, sp := range existing.partitions {
		if len(sp.blockReplicas) > 0 {
			return nil, newObjectError("site.delete", "site %s still holds replicas", s.Name)
		}
	}
	delete(inv.Sites, existing.Name)
	return []Entity{existing}, nil
}

// WriteInto dispatches to the persister's site upsert/delete.
func (s *Site) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteSite(s)
	}
	return p.SaveSite(s)
}

// partitionOf returns (creating if necessary) the SitePartition for p at
// this site.
func (s *Site) partitionOf(p *Partition) *SitePartition {
	if s.partitions == nil {
		s.partitions = make(map[string]*SitePartition)
	}
	sp, ok := s.partitions[p.Name]
	if !ok {
		sp = &SitePartition{Site: s, Partition: p, Quota: -1, blockReplicas: make(map[*BlockReplica]struct{})}
		s.partitions[p.Name] = sp
	}
	return sp
}

// SitePartition returns the existing SitePartition for p, or nil.
func (s *Site) SitePartition(p *Partition) *SitePartition {
	return s.partitions[p.Name]
}

// Quota returns the configured quota for partition p at this site
// (0 if never configured).
func (s *Site) Quota(p *Partition) int64 {
	sp := s.partitions[p.Name]
	if sp == nil {
		return 0
	}
	return sp.Quota
}

// SetQuota configures the quota for partition p at this site.
func (s *Site) SetQuota(p *Partition, quota int64) {
	s.partitionOf(p).Quota = quota
}

// addBlockReplica wires br into every partition it's classified under at
// this site (invariant 2), including superpartitions that contain a
// matching leaf.
func (s *Site) addBlockReplica(br *BlockReplica, inv *Inventory) {
	for _, p := range inv.Partitions {
		if p.Matches(br.Block) {
			s.partitionOf(p).blockReplicas[br] = struct{}{}
		}
	}
}

// removeBlockReplica removes br from every partition's membership set.
func (s *Site) removeBlockReplica(br *BlockReplica) {
	for _, sp := range s.partitions {
		delete(sp.blockReplicas, br)
	}
}

// updatePartitioning re-evaluates br's membership across every partition,
// called whenever an attribute that a condition might depend on changes.
func (s *Site) updatePartitioning(br *BlockReplica, inv *Inventory) {
	s.removeBlockReplica(br)
	s.addBlockReplica(br, inv)
}

// UsedBytes sums the size of every block replica classified under
// partition p at this site, following superpartitions down to their leaves.
func (sp *SitePartition) UsedBytes() int64 {
	var total int64
	for br := range sp.blockReplicas {
		total += br.Size
	}
	return total
}

// BlockReplicas returns the block replicas classified under this
// SitePartition.
func (sp *SitePartition) BlockReplicas() []*BlockReplica {
	out := make([]*BlockReplica, 0, len(sp.blockReplicas))
	for br := range sp.blockReplicas {
		out = append(out, br)
	}
	return out
}

// WriteInto persists the (site, partition) quota row.
func (sp *SitePartition) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteSitePartition(sp)
	}
	return p.SaveSitePartition(sp)
}
