package dealer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamo-go/dynamo/pkg/inventory"
)

// buildDataset seeds inv with a dataset of numBlocks blocks of blockSize
// bytes each.
func buildDataset(t *testing.T, inv *inventory.Inventory, name string, numBlocks int, blockSize int64) *inventory.Dataset {
	t.Helper()
	_, err := inv.Update(&inventory.Dataset{Name: name, Status: inventory.DatasetStatusValid, LastUpdate: time.Unix(1700000000, 0)}, false)
	require.NoError(t, err)
	for i := 0; i < numBlocks; i++ {
		_, err := inv.Update(&inventory.Block{
			Dataset: &inventory.Dataset{Name: name}, Name: blockName(i), Size: blockSize,
		}, false)
		require.NoError(t, err)
	}
	return inv.Datasets[name]
}

func blockName(i int) string {
	return "block-" + string(rune('0'+i))
}

func addSite(t *testing.T, inv *inventory.Inventory, name string, partition string, quota int64) *inventory.Site {
	t.Helper()
	_, err := inv.Update(&inventory.Site{Name: name, Status: inventory.SiteStatusReady}, false)
	require.NoError(t, err)
	site := inv.Sites[name]
	p := inv.Partitions[partition]
	site.SetQuota(p, quota)
	return site
}

func addReplica(t *testing.T, inv *inventory.Inventory, dataset, block, site, group string, complete bool) {
	t.Helper()
	_, err := inv.Update(&inventory.BlockReplica{
		Block: &inventory.Block{Dataset: &inventory.Dataset{Name: dataset}, Name: block},
		Site:  &inventory.Site{Name: site}, Group: &inventory.Group{Name: group},
		IsComplete: complete, Size: 10, LastUpdate: time.Unix(1700000001, 0),
	}, false)
	require.NoError(t, err)
}

func baseInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv := inventory.New()
	_, err := inv.Update(&inventory.Partition{Name: "AnalysisOps"}, false)
	require.NoError(t, err)
	_, err = inv.Update(&inventory.Group{Name: "G_over"}, false)
	require.NoError(t, err)
	_, err = inv.Update(&inventory.Group{Name: "G_new"}, false)
	require.NoError(t, err)
	return inv
}

// scenario 3: num_copies=2, partial existence, group re-own.
func TestCycleReOwnAndFillShortfall(t *testing.T) {
	inv := baseInventory(t)
	buildDataset(t, inv, "/X", 2, 10)
	addSite(t, inv, "S1", "AnalysisOps", -1)
	addSite(t, inv, "S2", "AnalysisOps", -1)
	addSite(t, inv, "S3", "AnalysisOps", -1)
	addSite(t, inv, "S4", "AnalysisOps", -1)

	// S1: fully exists, owned by the overwritable group.
	addReplica(t, inv, "/X", "block-0", "S1", "G_over", true)
	addReplica(t, inv, "/X", "block-1", "S1", "G_over", true)
	// S2: partially exists, owned by a non-overwritable group.
	addReplica(t, inv, "/X", "block-0", "S2", "G_new", true)

	table := NewRequestTable()
	reqID := table.Submit("G_new", 2, []string{"S1", "S2", "S3", "S4"}, []string{"/X"})

	policy := &QuotaPolicy{
		Inv: inv, Partition: "AnalysisOps", Sites: []string{"S1", "S2", "S3", "S4"},
		Overwritten: map[string]bool{"G_over": true},
	}
	handler := NewCopyRequestHandler(table)

	requests, err := handler.Cycle(inv, policy)
	require.NoError(t, err)

	req := table.requests[reqID]
	assert.Equal(t, RequestActivated, req.Status)

	var destinations []string
	for _, r := range requests {
		destinations = append(destinations, r.Destination)
	}
	assert.Contains(t, destinations, "S1") // re-own
	assert.Len(t, requests, 2)             // S1 re-own + one of S3/S4
	for _, d := range destinations {
		assert.NotEqual(t, "S2", d, "S2 only partially exists under a non-overwritable group")
	}
}

// scenario 4: size gate rejects an oversized whole-dataset request.
func TestCycleSizeGateRejectsOversizedDataset(t *testing.T) {
	inv := baseInventory(t)
	const tb = int64(1) << 40
	buildDataset(t, inv, "/Y", 1, 800*tb)
	addSite(t, inv, "S1", "AnalysisOps", -1)

	table := NewRequestTable()
	table.Submit("G_new", 0, []string{"S1"}, []string{"/Y"})

	policy := &QuotaPolicy{Inv: inv, Partition: "AnalysisOps", Sites: []string{"S1"}, Max: 500 * tb}
	handler := NewCopyRequestHandler(table)

	requests, err := handler.Cycle(inv, policy)
	require.NoError(t, err)
	assert.Empty(t, requests)

	rows := table.requests
	require.Len(t, rows, 1)
	for _, r := range rows {
		assert.Equal(t, RequestRejected, r.Status)
		assert.Contains(t, r.RejectCause, "too large")
	}
}

// scenario 5: a block-list request whose size exceeds the promotion
// threshold is promoted to a whole-dataset request.
func TestCycleBlockListPromotedToWholeDataset(t *testing.T) {
	inv := baseInventory(t)
	dataset := buildDatasetManyBlocks(t, inv, "/Z", 10, 10)
	addSite(t, inv, "S1", "AnalysisOps", -1)

	names := make([]string, 0, 9)
	for i := 0; i < 9; i++ {
		names = append(names, inventory.BlockFullName("/Z", dataset.Blocks()[i].Name))
	}

	table := NewRequestTable()
	table.Submit("G_new", 0, []string{"S1"}, names)

	policy := &QuotaPolicy{Inv: inv, Partition: "AnalysisOps", Sites: []string{"S1"}, BlockMax: 0.8}
	handler := NewCopyRequestHandler(table)

	requests, err := handler.Cycle(inv, policy)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.True(t, requests[0].Item.IsWholeDataset(), "9 of 10 blocks at 0.8 threshold promotes to the whole dataset")
	assert.Equal(t, "/Z", requests[0].Item.Dataset)
}

func buildDatasetManyBlocks(t *testing.T, inv *inventory.Inventory, name string, numBlocks int, blockSizeTB int64) *inventory.Dataset {
	t.Helper()
	const tb = int64(1) << 40
	_, err := inv.Update(&inventory.Dataset{Name: name, Status: inventory.DatasetStatusValid}, false)
	require.NoError(t, err)
	for i := 0; i < numBlocks; i++ {
		bn := "b" + string(rune('0'+i))
		_, err := inv.Update(&inventory.Block{Dataset: &inventory.Dataset{Name: name}, Name: bn, Size: blockSizeTB * tb}, false)
		require.NoError(t, err)
	}
	return inv.Datasets[name]
}

func TestPostprocessQueuesMatchingActiveCopies(t *testing.T) {
	table := NewRequestTable()
	id := table.InsertActiveCopy("/A", "S1", "G", ActiveCopyNew)
	table.Postprocess([]DealerRequest{{Item: Item{Dataset: "/A"}, Destination: "S1"}})
	for _, a := range table.ActiveCopies() {
		if a.ID == id {
			assert.Equal(t, ActiveCopyQueued, a.Status)
		}
	}
}
