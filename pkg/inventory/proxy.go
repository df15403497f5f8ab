package inventory

// Proxy wraps an Inventory for use inside a worker sub-process. Reads are
// delegated straight to the wrapped inventory (the worker's own read-only
// load of the master's state); Update and Delete additionally capture an
// unlinked clone of every mutation so the daemon's worker-process contract
// can replay them onto the master over the mutation channel.
//
// A Proxy is bound to the name "dynamo" in the submitted executable's
// environment, per the daemon's worker sub-process contract.
type Proxy struct {
	inv *Inventory

	updated []Entity
	deleted []Entity
}

// Update mirrors Inventory.Update but additionally records the resulting
// entity (attrs-only, unlinked) for transmission to the master. write must
// be true: a proxy exists only to capture mutations, so a caller passing
// write=false is almost certainly a mistake in the submitted executable.
func (p *Proxy) Update(obj Entity, write bool) (Entity, error) {
	if !write {
		return nil, ErrReadOnlyProxy
	}
	ent, _, err := obj.EmbedInto(p.inv, false)
	if err != nil {
		return nil, err
	}
	p.updated = append(p.updated, ent.UnlinkedClone(true))
	return ent, nil
}

// Delete mirrors Inventory.Delete, capturing every cascaded entity.
func (p *Proxy) Delete(obj Entity, write bool) ([]Entity, error) {
	if !write {
		return nil, ErrReadOnlyProxy
	}
	affected, err := obj.DeleteFrom(p.inv)
	if err != nil {
		return nil, err
	}
	for _, a := range affected {
		p.deleted = append(p.deleted, a.UnlinkedClone(true))
	}
	return affected, nil
}

// Updated returns the entities recorded by Update calls so far, in order.
func (p *Proxy) Updated() []Entity { return p.updated }

// Deleted returns the entities recorded by Delete calls so far, in order.
func (p *Proxy) Deleted() []Entity { return p.deleted }

// Inventory exposes the wrapped read-only view for lookups.
func (p *Proxy) Inventory() *Inventory { return p.inv }
