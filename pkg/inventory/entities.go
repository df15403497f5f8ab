// Package inventory implements the transactional in-memory object graph
// described by the data-management orchestrator: datasets composed of
// blocks composed of files, the sites holding replicas of those blocks, the
// groups that own each replica, and per-site quotas broken down by named
// partitions.
//
// Every entity type supports the same small operator set — Equals, CopyFrom,
// UnlinkedClone, EmbedInto, DeleteFrom, WriteInto — and EmbedInto/DeleteFrom
// are the only legal mutation entry points into the graph. Cross-references
// between entities (block -> replicas, site -> block replicas per
// partition, dataset replica -> block replicas) are plain pointers into the
// single Inventory that owns every entity; membership in those sets is what
// makes an entity "exist" in the graph, not the pointer itself.
package inventory

import "time"

// Entity is implemented by every inventory object.
type Entity interface {
	UnlinkedClone(attrs bool) Entity
	EmbedInto(inv *Inventory, check bool) (Entity, bool, error)
	DeleteFrom(inv *Inventory) ([]Entity, error)
	WriteInto(p Persister, delete bool) error
}

// OwnershipLevel controls the minimum granularity at which a Group can own
// replicas.
type OwnershipLevel int

const (
	OLevelBlock OwnershipLevel = iota + 1
	OLevelDataset
)

func (l OwnershipLevel) String() string {
	switch l {
	case OLevelDataset:
		return "Dataset"
	default:
		return "Block"
	}
}

// NullGroupName is the reserved name of the distinguished "unowned" group.
const NullGroupName = ""

// Group is the owner of a replica; olevel controls the minimum granularity
// at which ownership can be assigned.
type Group struct {
	Name   string
	OLevel OwnershipLevel
}

// IsNull reports whether this is the distinguished null (unowned) group.
func (g *Group) IsNull() bool { return g.Name == NullGroupName }

// Partition is either a leaf condition over blocks, or an ordered tuple of
// sub-partitions (a superpartition). The tree has depth at most 2.
type Partition struct {
	ID            uint32
	Name          string
	Condition     Condition // nil for superpartitions
	Subpartitions []*Partition
}

// IsSuper reports whether this partition is defined as the union of others.
func (p *Partition) IsSuper() bool { return len(p.Subpartitions) > 0 }

// Matches reports whether block b is classified under this partition.
func (p *Partition) Matches(b *Block) bool {
	if p.IsSuper() {
		for _, sub := range p.Subpartitions {
			if sub.Matches(b) {
				return true
			}
		}
		return false
	}
	if p.Condition == nil {
		return true
	}
	return p.Condition.Matches(b)
}

// Condition is a leaf partition predicate over a block's attributes. The
// condition expression language itself (parsing arbitrary attribute
// comparisons) is treated as an external collaborator, same as the
// persistent store's SQL text; callers register a Condition implementation
// by name when they load partitions (see store.Load).
type Condition interface {
	Matches(b *Block) bool
}

// ConditionFunc adapts a plain function to a Condition.
type ConditionFunc func(b *Block) bool

func (f ConditionFunc) Matches(b *Block) bool { return f(b) }

// SiteStatus enumerates the operational states of a storage endpoint.
type SiteStatus string

const (
	SiteStatusReady     SiteStatus = "ready"
	SiteStatusWaitroom  SiteStatus = "waitroom"
	SiteStatusMorgue    SiteStatus = "morgue"
	SiteStatusUnknown   SiteStatus = "unknown"
)

// Site is a storage endpoint holding replicas, identified by name.
type Site struct {
	Name        string
	Host        string
	StorageType string
	Backend     string
	Status      SiteStatus

	partitions map[string]*SitePartition // keyed by partition name
}

// SitePartition is the quota and block-replica membership of one partition
// at one site. For a superpartition, its membership is the union of its
// sub-partitions' memberships: a block replica is stored in every site
// partition whose partition contains it, superpartitions included.
type SitePartition struct {
	Site      *Site
	Partition *Partition
	Quota     int64 // bytes; negative = unlimited

	blockReplicas map[*BlockReplica]struct{}
}

// SoftwareVersion is interned: at most one object exists per
// (cycle, major, minor, suffix) tuple (invariant 7).
type SoftwareVersion struct {
	Cycle  int
	Major  int
	Minor  int
	Suffix string
}

// Dataset is an ordered set of blocks plus the set of sites holding at
// least one of its block replicas.
type Dataset struct {
	Name            string
	Status          DatasetStatus
	DataType        string
	SoftwareVersion *SoftwareVersion
	LastUpdate      time.Time
	IsOpen          bool

	blocks      map[string]*Block // keyed by block name
	blockOrder  []string
	replicas    map[string]*DatasetReplica // keyed by site name
}

// DatasetStatus enumerates the lifecycle states of a Dataset.
type DatasetStatus string

const (
	DatasetStatusValid     DatasetStatus = "valid"
	DatasetStatusProduction DatasetStatus = "production"
	DatasetStatusDeprecated DatasetStatus = "deprecated"
	DatasetStatusInvalid   DatasetStatus = "invalid"
	DatasetStatusIgnored   DatasetStatus = "ignored"
)

// Block belongs to exactly one dataset and owns a set of files.
type Block struct {
	Dataset    *Dataset
	Name       string
	Size       int64
	NumFiles   int
	IsOpen     bool
	LastUpdate time.Time

	files    map[string]*File      // keyed by lfn
	replicas map[string]*BlockReplica // keyed by site name
}

// File belongs to exactly one block.
type File struct {
	LFN   string
	Block *Block
	Size  int64
}

// DatasetReplica is a dataset's placement at a site; it exists only while it
// owns at least one BlockReplica (invariant 6).
type DatasetReplica struct {
	Dataset *Dataset
	Site    *Site

	blockReplicas map[string]*BlockReplica // keyed by block name
}

// BlockReplica is a block's placement at a site, owned by a group. Its size
// may differ from the block's canonical size.
type BlockReplica struct {
	Block       *Block
	Site        *Site
	Group       *Group
	IsComplete  bool
	IsCustodial bool
	Size        int64
	LastUpdate  time.Time
}
