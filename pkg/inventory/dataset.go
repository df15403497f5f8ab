package inventory

// FindBlock looks up a block by its short (not full) name.
func (d *Dataset) FindBlock(name string) (*Block, bool) {
	b, ok := d.blocks[name]
	return b, ok
}

// Blocks returns the dataset's blocks in the order they were embedded.
func (d *Dataset) Blocks() []*Block {
	out := make([]*Block, 0, len(d.blockOrder))
	for _, name := range d.blockOrder {
		if b, ok := d.blocks[name]; ok {
			out = append(out, b)
		}
	}
	return out
}

// FindReplica looks up this dataset's replica at site, if any.
func (d *Dataset) FindReplica(site *Site) (*DatasetReplica, bool) {
	dr, ok := d.replicas[site.Name]
	return dr, ok
}

// Replicas returns every DatasetReplica of this dataset.
func (d *Dataset) Replicas() []*DatasetReplica {
	out := make([]*DatasetReplica, 0, len(d.replicas))
	for _, dr := range d.replicas {
		out = append(out, dr)
	}
	return out
}

func (d *Dataset) addBlock(b *Block) {
	if d.blocks == nil {
		d.blocks = make(map[string]*Block)
	}
	if _, exists := d.blocks[b.Name]; !exists {
		d.blockOrder = append(d.blockOrder, b.Name)
	}
	d.blocks[b.Name] = b
}

func (d *Dataset) removeBlock(b *Block) {
	delete(d.blocks, b.Name)
	for i, name := range d.blockOrder {
		if name == b.Name {
			d.blockOrder = append(d.blockOrder[:i], d.blockOrder[i+1:]...)
			break
		}
	}
}

func (d *Dataset) addReplica(dr *DatasetReplica) {
	if d.replicas == nil {
		d.replicas = make(map[string]*DatasetReplica)
	}
	d.replicas[dr.Site.Name] = dr
}

func (d *Dataset) removeReplica(dr *DatasetReplica) {
	delete(d.replicas, dr.Site.Name)
}

// Equals compares persisted attributes only, not identity or contents.
func (d *Dataset) Equals(other *Dataset) bool {
	return d.Name == other.Name && d.Status == other.Status && d.DataType == other.DataType &&
		d.SoftwareVersion == other.SoftwareVersion && d.LastUpdate.Equal(other.LastUpdate) && d.IsOpen == other.IsOpen
}

// CopyFrom overwrites mutable attributes from other.
func (d *Dataset) CopyFrom(other *Dataset) error {
	if d.Name != other.Name {
		return newObjectError("dataset.copy", "cannot copy dataset %s into dataset %s", other.Name, d.Name)
	}
	d.Status = other.Status
	d.DataType = other.DataType
	d.SoftwareVersion = other.SoftwareVersion
	d.LastUpdate = other.LastUpdate
	d.IsOpen = other.IsOpen
	return nil
}

// UnlinkedClone returns a standalone Dataset with no blocks or replicas.
func (d *Dataset) UnlinkedClone(attrs bool) Entity {
	if !attrs {
		return &Dataset{Name: d.Name}
	}
	return &Dataset{
		Name: d.Name, Status: d.Status, DataType: d.DataType,
		SoftwareVersion: d.SoftwareVersion, LastUpdate: d.LastUpdate, IsOpen: d.IsOpen,
	}
}

// EmbedInto locates or creates the dataset inside inv.
func (d *Dataset) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	existing, ok := inv.Datasets[d.Name]
	if !ok {
		clone := d.UnlinkedClone(true).(*Dataset)
		inv.Datasets[clone.Name] = clone
		return clone, true, nil
	}

	if check && existing.Equals(d) {
		return existing, false, nil
	}
	if err := existing.CopyFrom(d); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// DeleteFrom cascades to the dataset's blocks, files, dataset replicas and
// block replicas (invariant 5).
func (d *Dataset) DeleteFrom(inv *Inventory) ([]Entity, error) {
	existing, ok := inv.Datasets[d.Name]
	if !ok {
		return nil, newObjectError("dataset.delete", "unknown dataset %s", d.Name)
	}

	var affected []Entity

	for _, dr := range existing.Replicas() {
		for _, br := range dr.BlockReplicas() {
			br.Site.removeBlockReplica(br)
			affected = append(affected, br)
		}
		affected = append(affected, dr)
	}
	existing.replicas = nil

	for _, b := range existing.Blocks() {
		for _, f := range b.Files() {
			affected = append(affected, f)
		}
		affected = append(affected, b)
	}
	existing.blocks = nil
	existing.blockOrder = nil

	delete(inv.Datasets, existing.Name)

	return append(affected, existing), nil
}

// WriteInto dispatches to the persister's dataset upsert/delete.
func (d *Dataset) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteDataset(d)
	}
	return p.SaveDataset(d)
}
