package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/metrics"
)

// SnapshotSwap replaces every bucket's contents with inv's current state.
// bbolt has no native bucket rename, so the swap is: write the full state
// into "<class>__shadow" buckets, then within the same transaction drop the
// live bucket and copy the shadow bucket's keys into a freshly created
// live bucket of the same name, finally dropping the shadow. Readers using
// a concurrent bolt.Tx (bbolt's MVCC snapshot) never observe a live bucket
// mid-rewrite: they either see the whole pre-swap state or the whole
// post-swap state, never a partial one.
func (s *BoltStore) SnapshotSwap(inv *inventory.Inventory) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreSnapshotSwapDuration)

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(shadowName(b)); err != nil {
				return err
			}
		}

		if err := writeSnapshot(tx, inv); err != nil {
			return err
		}

		for _, b := range allBuckets {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			live, err := tx.CreateBucket(b)
			if err != nil {
				return err
			}
			shadow := tx.Bucket(shadowName(b))
			if err := shadow.ForEach(func(k, v []byte) error {
				return live.Put(append([]byte{}, k...), append([]byte{}, v...))
			}); err != nil {
				return err
			}
			if err := tx.DeleteBucket(shadowName(b)); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSnapshot(tx *bolt.Tx, inv *inventory.Inventory) error {
	for _, p := range inv.Partitions {
		sub := make([]string, len(p.Subpartitions))
		for i, x := range p.Subpartitions {
			sub[i] = x.Name
		}
		if err := putJSON(tx, shadowName(bucketPartitions), p.Name, partitionRow{ID: p.ID, Name: p.Name, Subpartitions: sub}); err != nil {
			return err
		}
	}

	for _, g := range inv.Groups {
		if g.IsNull() {
			continue
		}
		if err := putJSON(tx, shadowName(bucketGroups), g.Name, toGroupRow(g)); err != nil {
			return err
		}
	}

	for _, site := range inv.Sites {
		if err := putJSON(tx, shadowName(bucketSites), site.Name, toSiteRow(site)); err != nil {
			return err
		}
		for _, p := range inv.Partitions {
			sp := site.SitePartition(p)
			if sp == nil {
				continue
			}
			key := site.Name + "\x1f" + p.Name
			if err := putJSON(tx, shadowName(bucketQuotas), key, quotaRow{Site: site.Name, Partition: p.Name, Quota: sp.Quota}); err != nil {
				return err
			}
		}
	}

	for _, d := range inv.Datasets {
		if err := putJSON(tx, shadowName(bucketDatasets), d.Name, toDatasetRow(d)); err != nil {
			return err
		}
		for _, b := range d.Blocks() {
			if err := putJSON(tx, shadowName(bucketBlocks), b.FullName(), toBlockRow(b)); err != nil {
				return err
			}
			for _, f := range b.Files() {
				key := b.FullName() + "\x1f" + f.LFN
				if err := putJSON(tx, shadowName(bucketFiles), key, toFileRow(f)); err != nil {
					return err
				}
			}
		}
		for _, dr := range d.Replicas() {
			drKey := dr.Dataset.Name + "\x1f" + dr.Site.Name
			if err := putJSON(tx, shadowName(bucketDatasetReplicas), drKey, toDatasetReplicaRow(dr)); err != nil {
				return err
			}
			for _, br := range dr.BlockReplicas() {
				brKey := br.Block.FullName() + "\x1f" + br.Site.Name
				if err := putJSON(tx, shadowName(bucketBlockReplicas), brKey, toBlockReplicaRow(br)); err != nil {
					return err
				}
				if br.Size != br.Block.Size {
					if err := putJSON(tx, shadowName(bucketBlockReplicaSizes), brKey,
						blockReplicaSizeRow{Block: br.Block.FullName(), Site: br.Site.Name, Size: br.Size}); err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

// CloneFrom copies every row of other into this store wholesale, used when
// migrating off a different Store implementation.
func (s *BoltStore) CloneFrom(other Store) error {
	inv := inventory.New()
	if err := other.Load(inv, LoadFilter{}); err != nil {
		return fmt.Errorf("clone: load source: %w", err)
	}
	if err := s.SnapshotSwap(inv); err != nil {
		return fmt.Errorf("clone: swap destination: %w", err)
	}
	return nil
}
