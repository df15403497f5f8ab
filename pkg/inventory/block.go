package inventory

// FindFile looks up a file owned by this block by lfn.
func (b *Block) FindFile(lfn string) (*File, bool) {
	f, ok := b.files[lfn]
	return f, ok
}

// Files returns every file owned by this block.
func (b *Block) Files() []*File {
	out := make([]*File, 0, len(b.files))
	for _, f := range b.files {
		out = append(out, f)
	}
	return out
}

// FindReplica looks up this block's replica at site, if any. Lookup keys on
// (block, site) only — group is a mutable attribute of the replica, not
// part of its identity, so that reassigning ownership never orphans a
// replica from its site/block indices.
func (b *Block) FindReplica(site *Site) (*BlockReplica, bool) {
	br, ok := b.replicas[site.Name]
	return br, ok
}

// Replicas returns every replica of this block.
func (b *Block) Replicas() []*BlockReplica {
	out := make([]*BlockReplica, 0, len(b.replicas))
	for _, br := range b.replicas {
		out = append(out, br)
	}
	return out
}

func (b *Block) addFile(f *File) {
	if b.files == nil {
		b.files = make(map[string]*File)
	}
	b.files[f.LFN] = f
}

func (b *Block) removeFile(f *File) {
	delete(b.files, f.LFN)
}

func (b *Block) addReplica(br *BlockReplica) {
	if b.replicas == nil {
		b.replicas = make(map[string]*BlockReplica)
	}
	b.replicas[br.Site.Name] = br
}

func (b *Block) removeReplica(br *BlockReplica) {
	delete(b.replicas, br.Site.Name)
}

// Equals compares persisted attributes only, not identity or contents.
func (b *Block) Equals(other *Block) bool {
	return b.Dataset.Name == other.Dataset.Name && b.Name == other.Name &&
		b.Size == other.Size && b.NumFiles == other.NumFiles &&
		b.IsOpen == other.IsOpen && b.LastUpdate.Equal(other.LastUpdate)
}

// CopyFrom overwrites mutable attributes from other.
func (b *Block) CopyFrom(other *Block) error {
	if b.Dataset.Name != other.Dataset.Name || b.Name != other.Name {
		return newObjectError("block.copy", "cannot copy block %s into block %s", other.FullName(), b.FullName())
	}
	b.Size = other.Size
	b.NumFiles = other.NumFiles
	b.IsOpen = other.IsOpen
	b.LastUpdate = other.LastUpdate
	return nil
}

// UnlinkedClone returns a standalone Block with a name-only Dataset stub
// and no files or replicas.
func (b *Block) UnlinkedClone(attrs bool) Entity {
	datasetStub := &Dataset{Name: b.Dataset.Name}
	if !attrs {
		return &Block{Dataset: datasetStub, Name: b.Name}
	}
	return &Block{
		Dataset: datasetStub, Name: b.Name, Size: b.Size, NumFiles: b.NumFiles,
		IsOpen: b.IsOpen, LastUpdate: b.LastUpdate,
	}
}

// EmbedInto locates or creates the block inside its dataset, which must
// already exist in inv.
func (b *Block) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	dataset, ok := inv.Datasets[b.Dataset.Name]
	if !ok {
		return nil, false, newObjectError("block.embed", "unknown dataset %s", b.Dataset.Name)
	}

	existing, ok := dataset.FindBlock(b.Name)
	if !ok {
		clone := b.UnlinkedClone(true).(*Block)
		clone.Dataset = dataset
		dataset.addBlock(clone)
		return clone, true, nil
	}

	if check && existing.Equals(b) {
		return existing, false, nil
	}
	if err := existing.CopyFrom(b); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// DeleteFrom removes the block along with its files and replicas.
func (b *Block) DeleteFrom(inv *Inventory) ([]Entity, error) {
	dataset, ok := inv.Datasets[b.Dataset.Name]
	if !ok {
		return nil, newObjectError("block.delete", "unknown dataset %s", b.Dataset.Name)
	}
	existing, ok := dataset.FindBlock(b.Name)
	if !ok {
		return nil, newObjectError("block.delete", "unknown block %s", b.FullName())
	}

	var affected []Entity
	for _, br := range existing.Replicas() {
		dr, ok := dataset.FindReplica(br.Site)
		if ok {
			unlinkBlockReplica(br, dr)
			affected = append(affected, br)
			if len(dr.blockReplicas) == 0 {
				dataset.removeReplica(dr)
				affected = append(affected, dr)
			}
		}
	}
	for _, f := range existing.Files() {
		affected = append(affected, f)
	}

	dataset.removeBlock(existing)

	return append(affected, existing), nil
}

// WriteInto dispatches to the persister's block upsert/delete.
func (b *Block) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteBlock(b)
	}
	return p.SaveBlock(b)
}
