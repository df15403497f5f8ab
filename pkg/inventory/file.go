package inventory

// Equals compares persisted attributes only, not identity.
func (f *File) Equals(other *File) bool {
	return f.LFN == other.LFN && f.Block.FullName() == other.Block.FullName() && f.Size == other.Size
}

// CopyFrom overwrites mutable attributes from other.
func (f *File) CopyFrom(other *File) error {
	if f.LFN != other.LFN {
		return newObjectError("file.copy", "cannot copy file %s into file %s", other.LFN, f.LFN)
	}
	f.Size = other.Size
	return nil
}

// UnlinkedClone returns a standalone File with a name-only Block stub.
func (f *File) UnlinkedClone(attrs bool) Entity {
	blockStub := &Block{Dataset: &Dataset{Name: f.Block.Dataset.Name}, Name: f.Block.Name}
	if !attrs {
		return &File{LFN: f.LFN, Block: blockStub}
	}
	return &File{LFN: f.LFN, Block: blockStub, Size: f.Size}
}

// EmbedInto locates or creates the file inside its block, which must
// already exist in inv.
func (f *File) EmbedInto(inv *Inventory, check bool) (Entity, bool, error) {
	block, err := inv.FindBlockFullName(f.Block.FullName())
	if err != nil {
		return nil, false, err
	}

	existing, ok := block.FindFile(f.LFN)
	if !ok {
		clone := f.UnlinkedClone(true).(*File)
		clone.Block = block
		block.addFile(clone)
		return clone, true, nil
	}

	if check && existing.Equals(f) {
		return existing, false, nil
	}
	if err := existing.CopyFrom(f); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// DeleteFrom removes the file from its block.
func (f *File) DeleteFrom(inv *Inventory) ([]Entity, error) {
	block, err := inv.FindBlockFullName(f.Block.FullName())
	if err != nil {
		return nil, err
	}
	existing, ok := block.FindFile(f.LFN)
	if !ok {
		return nil, newObjectError("file.delete", "unknown file %s", f.LFN)
	}
	block.removeFile(existing)
	return []Entity{existing}, nil
}

// WriteInto dispatches to the persister's file upsert/delete.
func (f *File) WriteInto(p Persister, del bool) error {
	if del {
		return p.DeleteFile(f)
	}
	return p.SaveFile(f)
}
