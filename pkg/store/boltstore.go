package store

import (
	"fmt"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"

	"github.com/dynamo-go/dynamo/pkg/inventory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	bucketPartitions      = []byte("partitions")
	bucketGroups          = []byte("groups")
	bucketSites           = []byte("sites")
	bucketQuotas          = []byte("quotas")
	bucketDatasets        = []byte("datasets")
	bucketBlocks          = []byte("blocks")
	bucketFiles           = []byte("files")
	bucketDatasetReplicas   = []byte("dataset_replicas")
	bucketBlockReplicas     = []byte("block_replicas")
	bucketBlockReplicaSizes = []byte("block_replica_sizes")

	allBuckets = [][]byte{
		bucketPartitions, bucketGroups, bucketSites, bucketQuotas,
		bucketDatasets, bucketBlocks, bucketFiles,
		bucketDatasetReplicas, bucketBlockReplicas, bucketBlockReplicaSizes,
	}
)

// shadowName returns the shadow bucket name used during SnapshotSwap.
func shadowName(bucket []byte) []byte {
	return append(append([]byte{}, bucket...), []byte("__shadow")...)
}

// BoltStore is the embedded persistent-store backend: one bucket per entity
// class, JSON-encoded rows keyed by the entity's natural name. It stands in
// for a relational schema — every method here could equally be a set of SQL
// statements against a real database, which is explicitly out of scope.
type BoltStore struct {
	db *bolt.DB
}

// Open creates or opens a BoltStore at dataDir/dynamo.db, creating every
// bucket it needs up front.
func Open(dataDir string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "dynamo.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

var _ Store = (*BoltStore)(nil)

func putJSON(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

// -- Persister: Partition --

func (s *BoltStore) SavePartition(p *inventory.Partition) error {
	sub := make([]string, len(p.Subpartitions))
	for i, x := range p.Subpartitions {
		sub[i] = x.Name
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketPartitions, p.Name, partitionRow{ID: p.ID, Name: p.Name, Subpartitions: sub})
	})
}

func (s *BoltStore) DeletePartition(p *inventory.Partition) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketPartitions).Delete([]byte(p.Name)) })
}

// -- Persister: Group --

func (s *BoltStore) SaveGroup(g *inventory.Group) error {
	if g.IsNull() {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error { return putJSON(tx, bucketGroups, g.Name, toGroupRow(g)) })
}

func (s *BoltStore) DeleteGroup(g *inventory.Group) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketGroups).Delete([]byte(g.Name)); err != nil {
			return err
		}
		return reownBlockReplicas(tx, g.Name)
	})
}

// reownBlockReplicas rewrites every block_replicas row owned by groupName to
// the null group, in the same transaction as the group's own row delete —
// the store-level mirror of the original's
// "UPDATE block_replicas SET group_id = 0 WHERE group_id = %s" cascade
// (mysqlstore.py). block_replica_sizes rows are untouched: their key and
// row shape don't carry a group, so a group change never invalidates them.
func reownBlockReplicas(tx *bolt.Tx, groupName string) error {
	b := tx.Bucket(bucketBlockReplicas)
	type rewrite struct {
		key []byte
		row blockReplicaRow
	}
	var rewrites []rewrite
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var row blockReplicaRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if row.Group != groupName {
			continue
		}
		row.Group = inventory.NullGroupName
		rewrites = append(rewrites, rewrite{key: append([]byte{}, k...), row: row})
	}
	for _, r := range rewrites {
		data, err := json.Marshal(r.row)
		if err != nil {
			return err
		}
		if err := b.Put(r.key, data); err != nil {
			return err
		}
	}
	return nil
}

// -- Persister: Site --

func (s *BoltStore) SaveSite(site *inventory.Site) error {
	return s.db.Update(func(tx *bolt.Tx) error { return putJSON(tx, bucketSites, site.Name, toSiteRow(site)) })
}

func (s *BoltStore) DeleteSite(site *inventory.Site) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSites).Delete([]byte(site.Name)); err != nil {
			return err
		}
		return deletePrefixed(tx.Bucket(bucketQuotas), site.Name+"\x1f")
	})
}

// -- Persister: SitePartition --

func (s *BoltStore) quotaKey(sp *inventory.SitePartition) string {
	return sp.Site.Name + "\x1f" + sp.Partition.Name
}

func (s *BoltStore) SaveSitePartition(sp *inventory.SitePartition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketQuotas, s.quotaKey(sp), quotaRow{Site: sp.Site.Name, Partition: sp.Partition.Name, Quota: sp.Quota})
	})
}

func (s *BoltStore) DeleteSitePartition(sp *inventory.SitePartition) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketQuotas).Delete([]byte(s.quotaKey(sp))) })
}

// -- Persister: Dataset --

func (s *BoltStore) SaveDataset(d *inventory.Dataset) error {
	return s.db.Update(func(tx *bolt.Tx) error { return putJSON(tx, bucketDatasets, d.Name, toDatasetRow(d)) })
}

func (s *BoltStore) DeleteDataset(d *inventory.Dataset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDatasets).Delete([]byte(d.Name)); err != nil {
			return err
		}
		if err := deletePrefixed(tx.Bucket(bucketBlocks), d.Name+"#"); err != nil {
			return err
		}
		if err := deletePrefixed(tx.Bucket(bucketFiles), "", withBlockPrefix(d.Name+"#")); err != nil {
			return err
		}
		return deletePrefixed(tx.Bucket(bucketDatasetReplicas), d.Name+"\x1f")
	})
}

// -- Persister: Block --

func (s *BoltStore) SaveBlock(b *inventory.Block) error {
	return s.db.Update(func(tx *bolt.Tx) error { return putJSON(tx, bucketBlocks, b.FullName(), toBlockRow(b)) })
}

func (s *BoltStore) DeleteBlock(b *inventory.Block) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Delete([]byte(b.FullName())); err != nil {
			return err
		}
		return deletePrefixed(tx.Bucket(bucketFiles), "", withBlockPrefix(b.FullName()))
	})
}

// -- Persister: File --

func (s *BoltStore) fileKey(f *inventory.File) string { return f.Block.FullName() + "\x1f" + f.LFN }

func (s *BoltStore) SaveFile(f *inventory.File) error {
	return s.db.Update(func(tx *bolt.Tx) error { return putJSON(tx, bucketFiles, s.fileKey(f), toFileRow(f)) })
}

func (s *BoltStore) DeleteFile(f *inventory.File) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketFiles).Delete([]byte(s.fileKey(f))) })
}

// -- Persister: DatasetReplica --

func (s *BoltStore) drKey(dr *inventory.DatasetReplica) string { return dr.Dataset.Name + "\x1f" + dr.Site.Name }

func (s *BoltStore) SaveDatasetReplica(dr *inventory.DatasetReplica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketDatasetReplicas, s.drKey(dr), toDatasetReplicaRow(dr))
	})
}

func (s *BoltStore) DeleteDatasetReplica(dr *inventory.DatasetReplica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDatasetReplicas).Delete([]byte(s.drKey(dr))); err != nil {
			return err
		}
		return deletePrefixed(tx.Bucket(bucketBlockReplicas), "", withBlockReplicaDatasetPrefix(dr.Dataset.Name, dr.Site.Name))
	})
}

// -- Persister: BlockReplica --

func (s *BoltStore) brKey(br *inventory.BlockReplica) string { return br.Block.FullName() + "\x1f" + br.Site.Name }

func (s *BoltStore) SaveBlockReplica(br *inventory.BlockReplica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx, bucketBlockReplicas, s.brKey(br), toBlockReplicaRow(br)); err != nil {
			return err
		}
		// The dataset replica exists as soon as one of its block replicas
		// does, so its row is written alongside.
		drRow := datasetReplicaRow{Dataset: br.Block.Dataset.Name, Site: br.Site.Name}
		if err := putJSON(tx, bucketDatasetReplicas, drRow.Dataset+"\x1f"+drRow.Site, drRow); err != nil {
			return err
		}
		sizeKey := []byte(s.brKey(br))
		if br.Size != br.Block.Size {
			return putJSON(tx, bucketBlockReplicaSizes, s.brKey(br), blockReplicaSizeRow{Block: br.Block.FullName(), Site: br.Site.Name, Size: br.Size})
		}
		return tx.Bucket(bucketBlockReplicaSizes).Delete(sizeKey)
	})
}

func (s *BoltStore) DeleteBlockReplica(br *inventory.BlockReplica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlockReplicas).Delete([]byte(s.brKey(br))); err != nil {
			return err
		}
		return tx.Bucket(bucketBlockReplicaSizes).Delete([]byte(s.brKey(br)))
	})
}

// deletePrefixed removes every key with the given string prefix from a
// bucket. An optional match predicate (applied to the decoded row) narrows
// it further, for buckets whose key doesn't itself carry the prefix.
func deletePrefixed(b *bolt.Bucket, prefix string, match ...func(k, v []byte) bool) error {
	var toDelete [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		ok := prefix == "" || hasPrefix(k, prefix)
		for _, m := range match {
			ok = ok && m(k, v)
		}
		if ok {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k []byte, prefix string) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == prefix
}

func withBlockPrefix(blockFullNamePrefix string) func(k, v []byte) bool {
	return func(k, v []byte) bool {
		var row fileRow
		if json.Unmarshal(v, &row) != nil {
			return false
		}
		return hasPrefix([]byte(row.Block), blockFullNamePrefix)
	}
}

func withBlockReplicaDatasetPrefix(dataset, site string) func(k, v []byte) bool {
	prefix := dataset + "#"
	return func(k, v []byte) bool {
		var row blockReplicaRow
		if json.Unmarshal(v, &row) != nil {
			return false
		}
		return row.Site == site && hasPrefix([]byte(row.Block), prefix)
	}
}
