package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamo-go/dynamo/pkg/inventory"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv := inventory.New()

	_, err := inv.Update(&inventory.Group{Name: "AnalysisOps", OLevel: inventory.OLevelBlock}, true)
	require.NoError(t, err)

	site := &inventory.Site{Name: "T2_Site_A", Host: "t2a.example.org", StorageType: "disk", Status: inventory.SiteStatusReady}
	_, err = inv.Update(site, true)
	require.NoError(t, err)

	dataset := &inventory.Dataset{
		Name: "/Primary/Run2026/RECO", Status: inventory.DatasetStatusValid, DataType: "RECO",
		SoftwareVersion: inventory.InternSoftwareVersion(13, 0, 2, ""), LastUpdate: time.Unix(1700000000, 0).UTC(),
	}
	_, err = inv.Update(dataset, true)
	require.NoError(t, err)

	block := &inventory.Block{Dataset: &inventory.Dataset{Name: dataset.Name}, Name: "block-0001", Size: 4096, NumFiles: 2}
	_, err = inv.Update(block, true)
	require.NoError(t, err)

	br := &inventory.BlockReplica{
		Block: &inventory.Block{Dataset: &inventory.Dataset{Name: dataset.Name}, Name: block.Name},
		Site:  &inventory.Site{Name: site.Name}, Group: &inventory.Group{Name: "AnalysisOps"},
		IsComplete: true, Size: 4096, LastUpdate: time.Unix(1700000001, 0).UTC(),
	}
	_, err = inv.Update(br, true)
	require.NoError(t, err)

	return inv
}

func flush(t *testing.T, inv *inventory.Inventory, p inventory.Persister) {
	t.Helper()
	for _, e := range inv.DrainPendingUpdates() {
		require.NoError(t, e.WriteInto(p, false))
	}
}

func TestSnapshotSwapRoundTrip(t *testing.T) {
	s := newTestStore(t)
	inv := seedInventory(t)
	before := inv.Version()

	require.NoError(t, s.SnapshotSwap(inv))

	loaded := inventory.New()
	require.NoError(t, s.Load(loaded, LoadFilter{}))
	assert.Equal(t, before, loaded.Version())

	storeVersion, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, before, storeVersion)
}

func TestPerEntitySaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	inv := seedInventory(t)
	flush(t, inv, s)

	loaded := inventory.New()
	require.NoError(t, s.Load(loaded, LoadFilter{}))
	assert.Equal(t, inv.Version(), loaded.Version())
}

func TestDeleteBlockReplicaClearsSizeOverride(t *testing.T) {
	s := newTestStore(t)
	inv := inventory.New()

	site := &inventory.Site{Name: "T1_Site", Status: inventory.SiteStatusReady}
	inv.Update(site, true)
	dataset := &inventory.Dataset{Name: "/Primary/Skim", Status: inventory.DatasetStatusValid}
	inv.Update(dataset, true)
	block := &inventory.Block{Dataset: &inventory.Dataset{Name: dataset.Name}, Name: "b1", Size: 1000}
	inv.Update(block, true)

	br := &inventory.BlockReplica{
		Block: &inventory.Block{Dataset: &inventory.Dataset{Name: dataset.Name}, Name: block.Name},
		Site:  &inventory.Site{Name: site.Name}, Group: inv.NullGroup(), Size: 500,
	}
	embedded, err := inv.Update(br, true)
	require.NoError(t, err)
	flush(t, inv, s)

	v, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, inv.Version(), v)

	affected, err := inv.Delete(embedded, true)
	require.NoError(t, err)
	for _, e := range affected {
		require.NoError(t, e.WriteInto(s, true))
	}

	v, err = s.Version()
	require.NoError(t, err)
	assert.Equal(t, inv.Version(), v)
}

func TestFilteredLoadExcludesOtherSites(t *testing.T) {
	s := newTestStore(t)
	inv := seedInventory(t)
	require.NoError(t, s.SnapshotSwap(inv))

	loaded := inventory.New()
	require.NoError(t, s.Load(loaded, LoadFilter{Sites: []string{"nonexistent"}}))
	assert.Empty(t, loaded.Sites)

	dataset, ok := loaded.Datasets["/Primary/Run2026/RECO"]
	require.True(t, ok)
	block, ok := dataset.FindBlock("block-0001")
	require.True(t, ok)
	assert.Empty(t, block.Replicas()) // the excluded site's replica was never admitted
}
