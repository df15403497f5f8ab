package inventory

// Persister is the narrow write surface WriteInto dispatches to. The
// concrete persistent store (pkg/store) implements this alongside its
// bulk-load and snapshot-swap operations; entity code only ever needs the
// per-entity upsert/delete half of that interface, so that's all it
// depends on here.
type Persister interface {
	SavePartition(*Partition) error
	DeletePartition(*Partition) error

	SaveGroup(*Group) error
	DeleteGroup(*Group) error

	SaveSite(*Site) error
	DeleteSite(*Site) error

	SaveSitePartition(*SitePartition) error
	DeleteSitePartition(*SitePartition) error

	SaveDataset(*Dataset) error
	DeleteDataset(*Dataset) error

	SaveBlock(*Block) error
	DeleteBlock(*Block) error

	SaveFile(*File) error
	DeleteFile(*File) error

	SaveDatasetReplica(*DatasetReplica) error
	DeleteDatasetReplica(*DatasetReplica) error

	SaveBlockReplica(*BlockReplica) error
	DeleteBlockReplica(*BlockReplica) error
}
