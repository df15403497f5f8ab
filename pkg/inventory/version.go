package inventory

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// tableOrder is the fixed class order the version hash is computed over.
var tableOrder = []string{
	"block_replica_sizes",
	"block_replicas",
	"blocks",
	"dataset_replicas",
	"datasets",
	"files",
	"groups",
	"partitions",
	"quotas",
	"sites",
	"software_versions",
}

// TableChecksum folds a table's rows into a single 32-bit value,
// independent of row order (rows are XORed together), so that unordered
// in-memory iteration and ordered store iteration agree.
func TableChecksum(rows []string) uint32 {
	var acc uint32
	for _, row := range rows {
		acc ^= xxhash.ChecksumString32(row)
	}
	return acc
}

// ComputeVersion renders the md5 of the concatenation, in tableOrder, of
// each table's 8-hex-digit TableChecksum. Both the in-memory Inventory and
// every pkg/store backend must produce identical tables for identical
// persisted state, so that round-tripping through a store leaves the
// version unchanged (invariant 6/7 in the testable-properties list).
func ComputeVersion(tables map[string][]string) string {
	buf := make([]byte, 0, len(tableOrder)*8)
	for _, name := range tableOrder {
		buf = append(buf, fmt.Sprintf("%08x", TableChecksum(tables[name]))...)
	}
	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:])
}

// Version computes the content hash of the full in-memory inventory state,
// per the persisted-state version-hash algorithm (same one pkg/store uses
// against its backing tables).
func (inv *Inventory) Version() string {
	return ComputeVersion(inv.tables())
}

func (inv *Inventory) tables() map[string][]string {
	tables := make(map[string][]string, len(tableOrder))

	for _, g := range inv.Groups {
		if g.IsNull() {
			continue
		}
		tables["groups"] = append(tables["groups"], fmt.Sprintf("%s\x1f%d", g.Name, g.OLevel))
	}

	for _, p := range inv.Partitions {
		sub := ""
		for _, s := range p.Subpartitions {
			sub += s.Name + ","
		}
		tables["partitions"] = append(tables["partitions"], fmt.Sprintf("%s\x1f%d\x1f%s", p.Name, p.ID, sub))
	}

	for _, s := range inv.Sites {
		tables["sites"] = append(tables["sites"], fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s", s.Name, s.Host, s.StorageType, s.Backend, s.Status))
		for _, sp := range s.partitions {
			tables["quotas"] = append(tables["quotas"], fmt.Sprintf("%s\x1f%s\x1f%d", s.Name, sp.Partition.Name, sp.Quota))
		}
	}

	seenVersions := make(map[SoftwareVersion]struct{})

	for _, d := range inv.Datasets {
		sv := ""
		if d.SoftwareVersion != nil {
			sv = fmt.Sprintf("%d.%d.%d%s", d.SoftwareVersion.Cycle, d.SoftwareVersion.Major, d.SoftwareVersion.Minor, d.SoftwareVersion.Suffix)
			if _, ok := seenVersions[*d.SoftwareVersion]; !ok {
				seenVersions[*d.SoftwareVersion] = struct{}{}
				tables["software_versions"] = append(tables["software_versions"], fmt.Sprintf("%d\x1f%d\x1f%d\x1f%s",
					d.SoftwareVersion.Cycle, d.SoftwareVersion.Major, d.SoftwareVersion.Minor, d.SoftwareVersion.Suffix))
			}
		}
		tables["datasets"] = append(tables["datasets"], fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%d\x1f%t",
			d.Name, d.Status, d.DataType, sv, d.LastUpdate.Unix(), d.IsOpen))

		for _, b := range d.Blocks() {
			tables["blocks"] = append(tables["blocks"], fmt.Sprintf("%s\x1f%d\x1f%d\x1f%t\x1f%d",
				b.FullName(), b.Size, b.NumFiles, b.IsOpen, b.LastUpdate.Unix()))

			for _, f := range b.Files() {
				tables["files"] = append(tables["files"], fmt.Sprintf("%s\x1f%s\x1f%d", f.LFN, b.FullName(), f.Size))
			}
		}

		for _, dr := range d.Replicas() {
			tables["dataset_replicas"] = append(tables["dataset_replicas"], fmt.Sprintf("%s\x1f%s", d.Name, dr.Site.Name))

			for _, br := range dr.BlockReplicas() {
				tables["block_replicas"] = append(tables["block_replicas"], fmt.Sprintf("%s\x1f%s\x1f%s\x1f%t\x1f%t\x1f%d",
					br.Block.FullName(), br.Site.Name, br.Group.Name, br.IsComplete, br.IsCustodial, br.LastUpdate.Unix()))

				if br.Size != br.Block.Size {
					tables["block_replica_sizes"] = append(tables["block_replica_sizes"], fmt.Sprintf("%s\x1f%s\x1f%d",
						br.Block.FullName(), br.Site.Name, br.Size))
				}
			}
		}
	}

	for name := range tables {
		sort.Strings(tables[name])
	}

	return tables
}

// FormatInt64 is a small helper kept for callers building row strings
// outside this package (e.g. store backends composing the same tables from
// their own rows).
func FormatInt64(v int64) string { return strconv.FormatInt(v, 10) }
