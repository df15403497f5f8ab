package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedGraph builds a small dataset/block/site/group graph with one block
// replica and returns the live entities for assertions.
func seedGraph(t *testing.T) (inv *Inventory, dataset *Dataset, block *Block, site *Site, group *Group, replica *BlockReplica) {
	t.Helper()
	inv = New()

	g, err := inv.Update(&Group{Name: "AnalysisOps", OLevel: OLevelBlock}, false)
	require.NoError(t, err)
	group = g.(*Group)

	s, err := inv.Update(&Site{Name: "T2_Site_A", Status: SiteStatusReady}, false)
	require.NoError(t, err)
	site = s.(*Site)

	d, err := inv.Update(&Dataset{Name: "/Primary/Run2026/RECO", Status: DatasetStatusValid}, false)
	require.NoError(t, err)
	dataset = d.(*Dataset)

	b, err := inv.Update(&Block{Dataset: &Dataset{Name: dataset.Name}, Name: "block-0001", Size: 4096}, false)
	require.NoError(t, err)
	block = b.(*Block)

	br, err := inv.Update(&BlockReplica{
		Block: &Block{Dataset: &Dataset{Name: dataset.Name}, Name: block.Name},
		Site:  &Site{Name: site.Name}, Group: &Group{Name: group.Name},
		IsComplete: true, Size: block.Size,
	}, false)
	require.NoError(t, err)
	replica = br.(*BlockReplica)

	return
}

// I1: a block replica is indexed symmetrically from its site, its block,
// and its dataset replica.
func TestI1_BlockReplicaCrossIndexed(t *testing.T) {
	_, dataset, block, site, _, replica := seedGraph(t)

	got, ok := block.FindReplica(site)
	require.True(t, ok)
	assert.Same(t, replica, got)

	dr, ok := dataset.FindReplica(site)
	require.True(t, ok)
	brFromDR, ok := dr.blockReplicas[block.Name]
	require.True(t, ok)
	assert.Same(t, replica, brFromDR)
}

// I2: a dataset's block set equals the union of blocks reachable from its
// dataset replicas' block replicas.
func TestI2_DatasetBlocksMatchReplicaUnion(t *testing.T) {
	_, dataset, block, _, _, _ := seedGraph(t)

	reachable := make(map[string]*Block)
	for _, dr := range dataset.Replicas() {
		for _, br := range dr.BlockReplicas() {
			reachable[br.Block.Name] = br.Block
		}
	}

	assert.Len(t, dataset.Blocks(), 1)
	assert.Contains(t, reachable, block.Name)
	assert.Same(t, block, reachable[block.Name])
}

// I3: deleting a group reassigns every block replica it owned to the null
// group, rather than leaving a dangling reference.
func TestI3_DeletingGroupReassignsReplicasToNullGroup(t *testing.T) {
	inv, _, block, site, group, replica := seedGraph(t)

	_, err := inv.Delete(&Group{Name: group.Name}, false)
	require.NoError(t, err)

	_, stillRegistered := inv.Groups[group.Name]
	assert.False(t, stillRegistered)

	got, ok := block.FindReplica(site)
	require.True(t, ok)
	assert.Same(t, got, replica)
	assert.True(t, got.Group.IsNull())
}

// I4: deleting a dataset removes every block, file, dataset replica and
// block replica that referenced it.
func TestI4_DeletingDatasetCascades(t *testing.T) {
	inv, dataset, block, site, _, _ := seedGraph(t)

	_, err := inv.Update(&File{LFN: "/store/file1", Block: &Block{Dataset: &Dataset{Name: dataset.Name}, Name: block.Name}, Size: 100}, false)
	require.NoError(t, err)

	affected, err := inv.Delete(&Dataset{Name: dataset.Name}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, affected)

	_, ok := inv.Datasets[dataset.Name]
	assert.False(t, ok)

	// The site must no longer carry a block replica of the deleted dataset.
	for _, sp := range site.partitions {
		for br := range sp.blockReplicas {
			assert.NotEqual(t, dataset.Name, br.Block.Dataset.Name)
		}
	}
}

// I5: re-embedding the exact same entity a second time is a no-op (the
// "changed" return value is false, and the graph is unmodified).
func TestI5_EmbedIntoIsIdempotent(t *testing.T) {
	inv, dataset, block, site, group, _ := seedGraph(t)
	before := inv.Version()

	obj := &BlockReplica{
		Block: &Block{Dataset: &Dataset{Name: dataset.Name}, Name: block.Name},
		Site:  &Site{Name: site.Name}, Group: &Group{Name: group.Name},
		IsComplete: true, Size: block.Size,
	}

	_, changed, err := obj.EmbedInto(inv, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, inv.Version())

	// A second identical call against the freshly embedded state is also a
	// no-op.
	_, changed, err = obj.EmbedInto(inv, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, inv.Version())
}

// I5 (dataset form): embedding a dataset twice with identical attributes
// never marks the second call as a change.
func TestI5_DatasetEmbedIdempotent(t *testing.T) {
	inv := New()
	d := &Dataset{Name: "/Primary/Idempotence", Status: DatasetStatusValid, DataType: "RAW"}

	_, changed, err := d.EmbedInto(inv, true)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = d.EmbedInto(inv, true)
	require.NoError(t, err)
	assert.False(t, changed)
}
