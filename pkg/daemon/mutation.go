package daemon

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/dynamo-go/dynamo/pkg/inventory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// mutationOp names the two frame kinds a worker sends back on its mutation
// channel, mirroring the master's own pending-update/pending-delete split.
type mutationOp string

const (
	opUpdate mutationOp = "update"
	opDelete mutationOp = "delete"
)

// entityKind discriminates which concrete type a mutationFrame's Data
// unmarshals into. Only the entity types a submitted executable is expected
// to mutate are represented; Partition and SoftwareVersion are reference
// data maintained by other paths, never by a worker.
type entityKind string

const (
	kindGroup          entityKind = "group"
	kindSite           entityKind = "site"
	kindDataset        entityKind = "dataset"
	kindBlock          entityKind = "block"
	kindFile           entityKind = "file"
	kindDatasetReplica entityKind = "dataset_replica"
	kindBlockReplica   entityKind = "block_replica"
)

// mutationFrame is one wire unit on the daemon<->worker mutation channel.
type mutationFrame struct {
	Op   mutationOp      `json:"op"`
	Kind entityKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// classify returns the wire kind for an unlinked-clone entity produced by a
// Proxy's Updated()/Deleted() lists.
func classify(e inventory.Entity) (entityKind, error) {
	switch e.(type) {
	case *inventory.Group:
		return kindGroup, nil
	case *inventory.Site:
		return kindSite, nil
	case *inventory.Dataset:
		return kindDataset, nil
	case *inventory.Block:
		return kindBlock, nil
	case *inventory.File:
		return kindFile, nil
	case *inventory.DatasetReplica:
		return kindDatasetReplica, nil
	case *inventory.BlockReplica:
		return kindBlockReplica, nil
	default:
		return "", fmt.Errorf("daemon: %T is not a mutable entity kind", e)
	}
}

// encodeFrame builds the wire frame for one captured mutation.
func encodeFrame(op mutationOp, e inventory.Entity) (mutationFrame, error) {
	kind, err := classify(e)
	if err != nil {
		return mutationFrame{}, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return mutationFrame{}, err
	}
	return mutationFrame{Op: op, Kind: kind, Data: data}, nil
}

// decode reconstructs the concrete entity named by f, ready to be passed to
// Inventory.Update or Inventory.Delete on the master side.
func (f mutationFrame) decode() (inventory.Entity, error) {
	var e inventory.Entity
	switch f.Kind {
	case kindGroup:
		e = &inventory.Group{}
	case kindSite:
		e = &inventory.Site{}
	case kindDataset:
		e = &inventory.Dataset{}
	case kindBlock:
		e = &inventory.Block{Dataset: &inventory.Dataset{}}
	case kindFile:
		e = &inventory.File{Block: &inventory.Block{Dataset: &inventory.Dataset{}}}
	case kindDatasetReplica:
		e = &inventory.DatasetReplica{Dataset: &inventory.Dataset{}, Site: &inventory.Site{}}
	case kindBlockReplica:
		e = &inventory.BlockReplica{
			Block: &inventory.Block{Dataset: &inventory.Dataset{}},
			Site:  &inventory.Site{},
			Group: &inventory.Group{},
		}
	default:
		return nil, fmt.Errorf("daemon: unknown mutation kind %q", f.Kind)
	}
	if err := json.Unmarshal(f.Data, e); err != nil {
		return nil, fmt.Errorf("daemon: decoding %s frame: %w", f.Kind, err)
	}
	return e, nil
}
