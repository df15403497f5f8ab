package store

import (
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/dynamo-go/dynamo/pkg/inventory"
)

// Version builds the same eleven canonical tables Inventory.Version does,
// straight from bucket contents, so that a Load/Save round trip through
// this store leaves the content hash unchanged.
func (s *BoltStore) Version() (string, error) {
	tables := make(map[string][]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := forEachRow(tx, bucketGroups, func(k, v []byte) error {
			var row groupRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			tables["groups"] = append(tables["groups"], fmt.Sprintf("%s\x1f%d", row.Name, row.OLevel))
			return nil
		}); err != nil {
			return err
		}

		if err := forEachRow(tx, bucketPartitions, func(k, v []byte) error {
			var row partitionRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			sub := ""
			for _, s := range row.Subpartitions {
				sub += s + ","
			}
			tables["partitions"] = append(tables["partitions"], fmt.Sprintf("%s\x1f%d\x1f%s", row.Name, row.ID, sub))
			return nil
		}); err != nil {
			return err
		}

		if err := forEachRow(tx, bucketSites, func(k, v []byte) error {
			var row siteRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			tables["sites"] = append(tables["sites"], fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s", row.Name, row.Host, row.StorageType, row.Backend, row.Status))
			return nil
		}); err != nil {
			return err
		}

		if err := forEachRow(tx, bucketQuotas, func(k, v []byte) error {
			var row quotaRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			tables["quotas"] = append(tables["quotas"], fmt.Sprintf("%s\x1f%s\x1f%d", row.Site, row.Partition, row.Quota))
			return nil
		}); err != nil {
			return err
		}

		seenVersions := make(map[inventory.SoftwareVersion]struct{})
		if err := forEachRow(tx, bucketDatasets, func(k, v []byte) error {
			var row datasetRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			sv := ""
			if row.SoftwareVersion != nil {
				sv = fmt.Sprintf("%d.%d.%d%s", row.SoftwareVersion.Cycle, row.SoftwareVersion.Major, row.SoftwareVersion.Minor, row.SoftwareVersion.Suffix)
				key := inventory.SoftwareVersion{Cycle: row.SoftwareVersion.Cycle, Major: row.SoftwareVersion.Major, Minor: row.SoftwareVersion.Minor, Suffix: row.SoftwareVersion.Suffix}
				if _, ok := seenVersions[key]; !ok {
					seenVersions[key] = struct{}{}
					tables["software_versions"] = append(tables["software_versions"], fmt.Sprintf("%d\x1f%d\x1f%d\x1f%s",
						key.Cycle, key.Major, key.Minor, key.Suffix))
				}
			}
			tables["datasets"] = append(tables["datasets"], fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%d\x1f%t",
				row.Name, row.Status, row.DataType, sv, row.LastUpdate, row.IsOpen))
			return nil
		}); err != nil {
			return err
		}

		blockSizes := make(map[string]int64)
		if err := forEachRow(tx, bucketBlocks, func(k, v []byte) error {
			var row blockRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			full := inventory.BlockFullName(row.Dataset, row.Name)
			blockSizes[full] = row.Size
			tables["blocks"] = append(tables["blocks"], fmt.Sprintf("%s\x1f%d\x1f%d\x1f%t\x1f%d", full, row.Size, row.NumFiles, row.IsOpen, row.LastUpdate))
			return nil
		}); err != nil {
			return err
		}

		if err := forEachRow(tx, bucketFiles, func(k, v []byte) error {
			var row fileRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			tables["files"] = append(tables["files"], fmt.Sprintf("%s\x1f%s\x1f%d", row.LFN, row.Block, row.Size))
			return nil
		}); err != nil {
			return err
		}

		if err := forEachRow(tx, bucketDatasetReplicas, func(k, v []byte) error {
			var row datasetReplicaRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			tables["dataset_replicas"] = append(tables["dataset_replicas"], fmt.Sprintf("%s\x1f%s", row.Dataset, row.Site))
			return nil
		}); err != nil {
			return err
		}

		overrides := make(map[string]int64)
		if err := forEachRow(tx, bucketBlockReplicaSizes, func(k, v []byte) error {
			var row blockReplicaSizeRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			overrides[row.Block+"\x1f"+row.Site] = row.Size
			return nil
		}); err != nil {
			return err
		}

		return forEachRow(tx, bucketBlockReplicas, func(k, v []byte) error {
			var row blockReplicaRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			tables["block_replicas"] = append(tables["block_replicas"], fmt.Sprintf("%s\x1f%s\x1f%s\x1f%t\x1f%t\x1f%d",
				row.Block, row.Site, row.Group, row.IsComplete, row.IsCustodial, row.LastUpdate))

			size, overridden := overrides[row.Block+"\x1f"+row.Site]
			if overridden && size != blockSizes[row.Block] {
				tables["block_replica_sizes"] = append(tables["block_replica_sizes"], fmt.Sprintf("%s\x1f%s\x1f%d", row.Block, row.Site, size))
			}
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("compute store version: %w", err)
	}

	for name := range tables {
		sort.Strings(tables[name])
	}
	return inventory.ComputeVersion(tables), nil
}
