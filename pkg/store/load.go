package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/metrics"
)

// Load populates inv in dependency order so every EmbedInto finds its
// parent already present: partitions, groups, sites (+ quotas), datasets,
// blocks, files, dataset replicas, block replicas.
func (s *BoltStore) Load(inv *inventory.Inventory, filter LoadFilter) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreLoadDuration)

	return s.db.View(func(tx *bolt.Tx) error {
		if err := loadPartitions(tx, inv, filter); err != nil {
			return fmt.Errorf("load partitions: %w", err)
		}
		if err := loadGroups(tx, inv); err != nil {
			return fmt.Errorf("load groups: %w", err)
		}
		if err := loadSites(tx, inv, filter); err != nil {
			return fmt.Errorf("load sites: %w", err)
		}
		if err := loadQuotas(tx, inv); err != nil {
			return fmt.Errorf("load quotas: %w", err)
		}
		if err := loadDatasets(tx, inv, filter); err != nil {
			return fmt.Errorf("load datasets: %w", err)
		}
		if err := loadBlocks(tx, inv); err != nil {
			return fmt.Errorf("load blocks: %w", err)
		}
		if err := loadFiles(tx, inv); err != nil {
			return fmt.Errorf("load files: %w", err)
		}
		if err := loadDatasetReplicas(tx, inv, filter); err != nil {
			return fmt.Errorf("load dataset replicas: %w", err)
		}
		if err := loadBlockReplicas(tx, inv); err != nil {
			return fmt.Errorf("load block replicas: %w", err)
		}
		return nil
	})
}

func forEachRow(tx *bolt.Tx, bucket []byte, fn func(k, v []byte) error) error {
	return tx.Bucket(bucket).ForEach(fn)
}

func loadPartitions(tx *bolt.Tx, inv *inventory.Inventory, filter LoadFilter) error {
	// Leaf partitions first (no Subpartitions dependency), then
	// superpartitions, since EmbedInto resolves sub-partition names against
	// inv.Partitions.
	var rows []partitionRow
	if err := forEachRow(tx, bucketPartitions, func(k, v []byte) error {
		var row partitionRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if !filter.allows(filter.Partitions, row.Name) {
			return nil
		}
		rows = append(rows, row)
		return nil
	}); err != nil {
		return err
	}

	pending := rows
	for len(pending) > 0 {
		progressed := false
		var next []partitionRow
		for _, row := range pending {
			if len(row.Subpartitions) > 0 {
				ready := true
				for _, sub := range row.Subpartitions {
					if _, ok := inv.Partitions[sub]; !ok {
						ready = false
						break
					}
				}
				if !ready {
					next = append(next, row)
					continue
				}
			}
			p := &inventory.Partition{ID: row.ID, Name: row.Name, Condition: filter.Conditions[row.Name]}
			for _, sub := range row.Subpartitions {
				p.Subpartitions = append(p.Subpartitions, inv.Partitions[sub])
			}
			if _, err := inv.Update(p, false); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed && len(next) > 0 {
			return fmt.Errorf("unresolvable sub-partition reference among %d partitions", len(next))
		}
		pending = next
	}
	return nil
}

func loadGroups(tx *bolt.Tx, inv *inventory.Inventory) error {
	return forEachRow(tx, bucketGroups, func(k, v []byte) error {
		var row groupRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		_, err := inv.Update(&inventory.Group{Name: row.Name, OLevel: inventory.OwnershipLevel(row.OLevel)}, false)
		return err
	})
}

func loadSites(tx *bolt.Tx, inv *inventory.Inventory, filter LoadFilter) error {
	return forEachRow(tx, bucketSites, func(k, v []byte) error {
		var row siteRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if !filter.allows(filter.Sites, row.Name) {
			return nil
		}
		site := &inventory.Site{
			Name: row.Name, Host: row.Host, StorageType: row.StorageType,
			Backend: row.Backend, Status: inventory.SiteStatus(row.Status),
		}
		_, err := inv.Update(site, false)
		return err
	})
}

func loadQuotas(tx *bolt.Tx, inv *inventory.Inventory) error {
	return forEachRow(tx, bucketQuotas, func(k, v []byte) error {
		var row quotaRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		site, ok := inv.Sites[row.Site]
		if !ok {
			return nil
		}
		partition, ok := inv.Partitions[row.Partition]
		if !ok {
			return nil
		}
		site.SetQuota(partition, row.Quota)
		return nil
	})
}

func loadDatasets(tx *bolt.Tx, inv *inventory.Inventory, filter LoadFilter) error {
	return forEachRow(tx, bucketDatasets, func(k, v []byte) error {
		var row datasetRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if !filter.allows(filter.Datasets, row.Name) {
			return nil
		}
		d := &inventory.Dataset{
			Name: row.Name, Status: inventory.DatasetStatus(row.Status), DataType: row.DataType,
			LastUpdate: time.Unix(row.LastUpdate, 0).UTC(), IsOpen: row.IsOpen,
		}
		if row.SoftwareVersion != nil {
			d.SoftwareVersion = inventory.InternSoftwareVersion(
				row.SoftwareVersion.Cycle, row.SoftwareVersion.Major, row.SoftwareVersion.Minor, row.SoftwareVersion.Suffix)
		}
		_, err := inv.Update(d, false)
		return err
	})
}

func loadBlocks(tx *bolt.Tx, inv *inventory.Inventory) error {
	return forEachRow(tx, bucketBlocks, func(k, v []byte) error {
		var row blockRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if _, ok := inv.Datasets[row.Dataset]; !ok {
			return nil
		}
		b := &inventory.Block{
			Dataset: &inventory.Dataset{Name: row.Dataset}, Name: row.Name, Size: row.Size,
			NumFiles: row.NumFiles, IsOpen: row.IsOpen, LastUpdate: time.Unix(row.LastUpdate, 0).UTC(),
		}
		_, err := inv.Update(b, false)
		return err
	})
}

func loadFiles(tx *bolt.Tx, inv *inventory.Inventory) error {
	return forEachRow(tx, bucketFiles, func(k, v []byte) error {
		var row fileRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if _, err := inv.FindBlockFullName(row.Block); err != nil {
			return nil
		}
		datasetName, blockName, _ := inventory.ParseBlockFullName(row.Block)
		f := &inventory.File{
			LFN: row.LFN, Size: row.Size,
			Block: &inventory.Block{Dataset: &inventory.Dataset{Name: datasetName}, Name: blockName},
		}
		_, err := inv.Update(f, false)
		return err
	})
}

func loadDatasetReplicas(tx *bolt.Tx, inv *inventory.Inventory, filter LoadFilter) error {
	return forEachRow(tx, bucketDatasetReplicas, func(k, v []byte) error {
		var row datasetReplicaRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if _, ok := inv.Datasets[row.Dataset]; !ok {
			return nil
		}
		if _, ok := inv.Sites[row.Site]; !ok {
			return nil
		}
		dr := &inventory.DatasetReplica{Dataset: &inventory.Dataset{Name: row.Dataset}, Site: &inventory.Site{Name: row.Site}}
		_, err := inv.Update(dr, false)
		return err
	})
}

func loadBlockReplicas(tx *bolt.Tx, inv *inventory.Inventory) error {
	return forEachRow(tx, bucketBlockReplicas, func(k, v []byte) error {
		var row blockReplicaRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		block, err := inv.FindBlockFullName(row.Block)
		if err != nil {
			return nil
		}
		if _, ok := inv.Sites[row.Site]; !ok {
			return nil
		}
		groupName := row.Group
		if _, ok := inv.Groups[groupName]; !ok {
			// A row can reference a group no longer present (e.g. a store
			// written before the DeleteGroup reassignment cascade existed) —
			// default it to the null group rather than silently dropping
			// the replica, same as BoltStore.DeleteGroup's own reassignment.
			groupName = inventory.NullGroupName
		}
		size := block.Size
		var sizeRow blockReplicaSizeRow
		hasOverride, err := lookupBlockReplicaSize(tx, row.Block, row.Site, &sizeRow)
		if err != nil {
			return err
		}
		if hasOverride {
			size = sizeRow.Size
		}

		br := &inventory.BlockReplica{
			Block:       &inventory.Block{Dataset: &inventory.Dataset{Name: block.Dataset.Name}, Name: block.Name},
			Site:        &inventory.Site{Name: row.Site},
			Group:       &inventory.Group{Name: groupName},
			IsComplete:  row.IsComplete,
			IsCustodial: row.IsCustodial,
			Size:        size,
			LastUpdate:  time.Unix(row.LastUpdate, 0).UTC(),
		}
		_, err = inv.Update(br, false)
		return err
	})
}

func lookupBlockReplicaSize(tx *bolt.Tx, block, site string, out *blockReplicaSizeRow) (bool, error) {
	b := tx.Bucket(bucketBlockReplicaSizes)
	if b == nil {
		return false, nil
	}
	data := b.Get([]byte(block + "\x1f" + site))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}
