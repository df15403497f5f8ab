package store

import "github.com/dynamo-go/dynamo/pkg/inventory"

// The row types below are the on-disk shapes for each bucket. They hold
// names instead of pointers so they can be encoded independently of the
// in-memory object graph, then resolved back into pointers on Load.

type partitionRow struct {
	ID            uint32   `json:"id"`
	Name          string   `json:"name"`
	Subpartitions []string `json:"subpartitions,omitempty"`
}

type groupRow struct {
	Name   string `json:"name"`
	OLevel int    `json:"olevel"`
}

type siteRow struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	StorageType string `json:"storage_type"`
	Backend     string `json:"backend"`
	Status      string `json:"status"`
}

type quotaRow struct {
	Site      string `json:"site"`
	Partition string `json:"partition"`
	Quota     int64  `json:"quota"`
}

type softwareVersionRow struct {
	Cycle  int    `json:"cycle"`
	Major  int    `json:"major"`
	Minor  int    `json:"minor"`
	Suffix string `json:"suffix"`
}

type datasetRow struct {
	Name            string              `json:"name"`
	Status          string              `json:"status"`
	DataType        string              `json:"data_type"`
	SoftwareVersion *softwareVersionRow `json:"software_version,omitempty"`
	LastUpdate      int64               `json:"last_update"`
	IsOpen          bool                `json:"is_open"`
}

type blockRow struct {
	Dataset    string `json:"dataset"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	NumFiles   int    `json:"num_files"`
	IsOpen     bool   `json:"is_open"`
	LastUpdate int64  `json:"last_update"`
}

type fileRow struct {
	LFN   string `json:"lfn"`
	Block string `json:"block"` // dataset#block
	Size  int64  `json:"size"`
}

type datasetReplicaRow struct {
	Dataset string `json:"dataset"`
	Site    string `json:"site"`
}

type blockReplicaRow struct {
	Block       string `json:"block"` // dataset#block
	Site        string `json:"site"`
	Group       string `json:"group"`
	IsComplete  bool   `json:"is_complete"`
	IsCustodial bool   `json:"is_custodial"`
	LastUpdate  int64  `json:"last_update"`
}

// blockReplicaSizeRow holds only the replicas whose size differs from
// their block's canonical size.
type blockReplicaSizeRow struct {
	Block string `json:"block"`
	Site  string `json:"site"`
	Size  int64  `json:"size"`
}

func toGroupRow(g *inventory.Group) groupRow {
	return groupRow{Name: g.Name, OLevel: int(g.OLevel)}
}

func toSiteRow(s *inventory.Site) siteRow {
	return siteRow{Name: s.Name, Host: s.Host, StorageType: s.StorageType, Backend: s.Backend, Status: string(s.Status)}
}

func toDatasetRow(d *inventory.Dataset) datasetRow {
	row := datasetRow{
		Name: d.Name, Status: string(d.Status), DataType: d.DataType,
		LastUpdate: d.LastUpdate.Unix(), IsOpen: d.IsOpen,
	}
	if d.SoftwareVersion != nil {
		row.SoftwareVersion = &softwareVersionRow{
			Cycle: d.SoftwareVersion.Cycle, Major: d.SoftwareVersion.Major,
			Minor: d.SoftwareVersion.Minor, Suffix: d.SoftwareVersion.Suffix,
		}
	}
	return row
}

func toBlockRow(b *inventory.Block) blockRow {
	return blockRow{
		Dataset: b.Dataset.Name, Name: b.Name, Size: b.Size, NumFiles: b.NumFiles,
		IsOpen: b.IsOpen, LastUpdate: b.LastUpdate.Unix(),
	}
}

func toFileRow(f *inventory.File) fileRow {
	return fileRow{LFN: f.LFN, Block: f.Block.FullName(), Size: f.Size}
}

func toDatasetReplicaRow(dr *inventory.DatasetReplica) datasetReplicaRow {
	return datasetReplicaRow{Dataset: dr.Dataset.Name, Site: dr.Site.Name}
}

func toBlockReplicaRow(br *inventory.BlockReplica) blockReplicaRow {
	return blockReplicaRow{
		Block: br.Block.FullName(), Site: br.Site.Name, Group: br.Group.Name,
		IsComplete: br.IsComplete, IsCustodial: br.IsCustodial, LastUpdate: br.LastUpdate.Unix(),
	}
}
