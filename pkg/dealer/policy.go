package dealer

import (
	"fmt"

	"github.com/dynamo-go/dynamo/pkg/inventory"
)

// QuotaPolicy is the one concrete Policy: it authorizes a destination if
// the site's quota for the active partition has room for the item's size,
// and picks the candidate with the most free quota when asked to find a
// destination, grounded on the source's default partition-quota dealer
// policy.
type QuotaPolicy struct {
	Inv *inventory.Inventory

	Partition         string
	Sites             []string
	Max               int64
	BlockMax          float64
	Overwritten       map[string]bool
}

var _ Policy = (*QuotaPolicy)(nil)

func (p *QuotaPolicy) ActivePartition() string         { return p.Partition }
func (p *QuotaPolicy) TargetSites() []string            { return p.Sites }
func (p *QuotaPolicy) MaxSize() int64                   { return p.Max }
func (p *QuotaPolicy) BlockRequestMax() float64         { return p.BlockMax }
func (p *QuotaPolicy) OverwrittenGroups() map[string]bool { return p.Overwritten }

// itemSize sums the canonical size of item's blocks (or the whole dataset).
func (p *QuotaPolicy) itemSize(it Item) (int64, error) {
	dataset, ok := p.Inv.Datasets[it.Dataset]
	if !ok {
		return 0, fmt.Errorf("unknown dataset %s", it.Dataset)
	}
	if it.IsWholeDataset() {
		var total int64
		for _, b := range dataset.Blocks() {
			total += b.Size
		}
		return total, nil
	}
	var total int64
	for _, bn := range it.Blocks {
		b, ok := dataset.FindBlock(bn)
		if !ok {
			return 0, fmt.Errorf("unknown block %s#%s", it.Dataset, bn)
		}
		total += b.Size
	}
	return total, nil
}

// freeQuota returns the bytes of headroom site has under p.Partition, or a
// large sentinel if the partition's quota there is unlimited (negative).
func (p *QuotaPolicy) freeQuota(siteName string) (int64, error) {
	site, ok := p.Inv.Sites[siteName]
	if !ok {
		return 0, fmt.Errorf("unknown site %s", siteName)
	}
	partition, ok := p.Inv.Partitions[p.Partition]
	if !ok {
		return 0, fmt.Errorf("unknown partition %s", p.Partition)
	}
	sp := site.SitePartition(partition)
	if sp == nil {
		return 0, fmt.Errorf("site %s has no quota configured for partition %s", siteName, p.Partition)
	}
	if sp.Quota < 0 {
		return 1 << 62, nil
	}
	return sp.Quota - sp.UsedBytes(), nil
}

// CheckDestination rejects a site whose free quota can't hold item.
func (p *QuotaPolicy) CheckDestination(it Item, siteName string) error {
	size, err := p.itemSize(it)
	if err != nil {
		return err
	}
	free, err := p.freeQuota(siteName)
	if err != nil {
		return err
	}
	if size > free {
		return fmt.Errorf("site %s has insufficient quota (%d < %d)", siteName, free, size)
	}
	return nil
}

// FindDestinationFor picks the candidate with the most free quota that can
// still hold item.
func (p *QuotaPolicy) FindDestinationFor(it Item, candidates []string) (string, bool) {
	size, err := p.itemSize(it)
	if err != nil {
		return "", false
	}
	best := ""
	var bestFree int64 = -1
	for _, c := range candidates {
		free, err := p.freeQuota(c)
		if err != nil || free < size {
			continue
		}
		if free > bestFree {
			best, bestFree = c, free
		}
	}
	return best, best != ""
}
