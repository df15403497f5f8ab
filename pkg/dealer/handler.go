package dealer

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/metrics"
)

// existence classifies how much of an item already sits at a site.
type existence int

const (
	existenceNone    existence = 0
	existencePartial existence = 1
	existenceFull    existence = 2
)

// CopyRequestHandler runs one scheduling cycle of the copy-request
// algorithm (spec §4.G) against an inventory snapshot and a RequestTable.
type CopyRequestHandler struct {
	Table *RequestTable
}

// NewCopyRequestHandler returns a handler over table.
func NewCopyRequestHandler(table *RequestTable) *CopyRequestHandler {
	return &CopyRequestHandler{Table: table}
}

// proposals is the working set blocks_to_propose: site -> dataset -> set of
// block names, with whole-dataset proposals kept apart in whole.
type proposals struct {
	bySite map[string]map[string]map[string]bool
	whole  map[string]map[string]bool // site -> dataset -> true if whole dataset requested
}

func newProposals() *proposals {
	return &proposals{bySite: make(map[string]map[string]map[string]bool), whole: make(map[string]map[string]bool)}
}

func (p *proposals) merge(site string, it Item) {
	if p.bySite[site] == nil {
		p.bySite[site] = make(map[string]map[string]bool)
	}
	if p.whole[site] == nil {
		p.whole[site] = make(map[string]bool)
	}
	if it.IsWholeDataset() {
		p.whole[site][it.Dataset] = true
		return
	}
	if p.bySite[site][it.Dataset] == nil {
		p.bySite[site][it.Dataset] = make(map[string]bool)
	}
	for _, b := range it.Blocks {
		p.bySite[site][it.Dataset][b] = true
	}
}

// covers reports whether site's working set already fully covers item.
func (p *proposals) covers(site string, it Item) bool {
	if p.whole[site][it.Dataset] {
		return true
	}
	if it.IsWholeDataset() {
		return false
	}
	blocks := p.bySite[site][it.Dataset]
	if blocks == nil {
		return false
	}
	for _, b := range it.Blocks {
		if !blocks[b] {
			return false
		}
	}
	return true
}

// Cycle runs one scheduling pass: it re-enqueues in-flight active copies,
// validates and activates pending requests, and flattens the resulting
// working set into DealerRequests for the transfer back-end.
func (h *CopyRequestHandler) Cycle(inv *inventory.Inventory, policy Policy) ([]DealerRequest, error) {
	inv.Lock.RLock()
	defer inv.Lock.RUnlock()

	props := newProposals()

	// Step 1: re-enqueue in-flight copies.
	for _, ac := range h.Table.ActiveNew() {
		it, ok := resolveItemName(inv, ac.Item)
		if !ok {
			h.Table.MarkActiveFailed(ac.ID)
			continue
		}
		if _, ok := inv.Sites[ac.Site]; !ok {
			h.Table.MarkActiveFailed(ac.ID)
			continue
		}
		props.merge(ac.Site, it)
	}

	// Step 2: collect pending requests (already grouped by RequestTable).
	for _, req := range h.Table.PendingRequests() {
		if err := h.processRequest(inv, policy, req, props); err != nil {
			h.Table.SetRequestStatus(req.ID, RequestRejected, err.Error())
			metrics.DealerRequestsRejectedTotal.WithLabelValues(rejectCause(err)).Inc()
			continue
		}
		h.Table.SetRequestStatus(req.ID, RequestActivated, "")
	}

	return flatten(props, inv), nil
}

// Postprocess delegates to the table; see RequestTable.Postprocess.
func (h *CopyRequestHandler) Postprocess(accepted []DealerRequest) { h.Table.Postprocess(accepted) }

func flatten(props *proposals, inv *inventory.Inventory) []DealerRequest {
	var out []DealerRequest
	for site, datasets := range props.whole {
		for dataset := range datasets {
			out = append(out, DealerRequest{Item: Item{Dataset: dataset}, Destination: site})
		}
	}
	for site, datasets := range props.bySite {
		for dataset, blocks := range datasets {
			if props.whole[site][dataset] {
				continue // already emitted as a whole-dataset request above
			}
			d, ok := inv.Datasets[dataset]
			full := ok && len(blocks) == len(d.Blocks())
			if full {
				out = append(out, DealerRequest{Item: Item{Dataset: dataset}, Destination: site})
				continue
			}
			names := make([]string, 0, len(blocks))
			for b := range blocks {
				names = append(names, b)
			}
			sort.Strings(names)
			out = append(out, DealerRequest{Item: Item{Dataset: dataset, Blocks: names}, Destination: site})
		}
	}
	return out
}

// processRequest validates req and, on success, commits its activations
// into props and the request table's active_copies rows.
func (h *CopyRequestHandler) processRequest(inv *inventory.Inventory, policy Policy, req *CopyRequest, props *proposals) error {
	group, ok := inv.Groups[req.Group]
	if !ok {
		return fmt.Errorf("unknown group %s", req.Group)
	}

	sites, err := resolveSites(req.SiteNames, policy.TargetSites())
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return fmt.Errorf("no sites resolved from %v", req.SiteNames)
	}

	items, err := resolveRequestItems(inv, req.ItemNames)
	if err != nil {
		return err
	}

	for _, it := range items {
		it, err = h.gateSize(inv, policy, it)
		if err != nil {
			return err
		}
		if err := h.assignDestinations(inv, policy, group.Name, req.NumCopies, sites, it, props); err != nil {
			return err
		}
	}
	return nil
}

// gateSize applies the size ceiling and block->dataset promotion rule.
func (h *CopyRequestHandler) gateSize(inv *inventory.Inventory, policy Policy, it Item) (Item, error) {
	dataset, ok := inv.Datasets[it.Dataset]
	if !ok {
		return it, fmt.Errorf("unknown dataset %s", it.Dataset)
	}

	if it.IsWholeDataset() {
		size := datasetSize(dataset)
		if max := policy.MaxSize(); max > 0 && size > max {
			return it, fmt.Errorf("dataset %s is too large (>%d)", it.Dataset, max)
		}
		return it, nil
	}

	var sum int64
	for _, bn := range it.Blocks {
		b, ok := dataset.FindBlock(bn)
		if !ok {
			return it, fmt.Errorf("unknown block %s#%s", it.Dataset, bn)
		}
		sum += b.Size
	}
	if max := policy.MaxSize(); max > 0 && sum > max {
		return it, fmt.Errorf("block list of %s is too large (>%d)", it.Dataset, max)
	}
	if total := datasetSize(dataset); total > 0 && float64(sum) > float64(total)*policy.BlockRequestMax() {
		return Item{Dataset: it.Dataset}, nil // promoted to whole-dataset
	}
	return it, nil
}

func datasetSize(d *inventory.Dataset) int64 {
	var total int64
	for _, b := range d.Blocks() {
		total += b.Size
	}
	return total
}

// assignDestinations implements step 5 of the cycle for one item: either
// "every resolved site" (num_copies == 0) or "num_copies distinct sites"
// existence-ordered destination assignment.
func (h *CopyRequestHandler) assignDestinations(inv *inventory.Inventory, policy Policy, group string, numCopies int, sites []string, it Item, props *proposals) error {
	if numCopies == 0 {
		for _, site := range sites {
			if existenceOf(inv, it, site) == existenceFull {
				h.Table.InsertActiveCopy(primaryItemName(it), site, group, ActiveCopyCompleted)
				continue
			}
			if err := policy.CheckDestination(it, site); err != nil {
				return fmt.Errorf("site %s rejected: %w", site, err)
			}
			h.Table.InsertActiveCopy(primaryItemName(it), site, group, ActiveCopyNew)
			props.merge(site, it)
		}
		return nil
	}

	shuffled := append([]string(nil), sites...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	ordered := orderByExistence(inv, it, shuffled)

	satisfied := 0
	var candidates []string
	var reOwn []string

	overwritten := policy.OverwrittenGroups()
	for _, site := range ordered {
		if satisfied >= numCopies {
			// Enough completed copies and re-owns already found; stop
			// walking so neither reOwn nor candidates grows past what
			// num_new can still need (requests.py:353-354).
			break
		}
		if props.covers(site, it) {
			satisfied++
			continue
		}
		switch existenceOf(inv, it, site) {
		case existenceFull:
			if owner, ok := singleOwningGroup(inv, it, site); ok && overwritten[owner] {
				reOwn = append(reOwn, site)
			}
			satisfied++
		case existencePartial:
			if owner, ok := singleOwningGroup(inv, it, site); ok && overwritten[owner] {
				reOwn = append(reOwn, site)
				satisfied++
			}
			// else: skip, neither satisfied nor a candidate
		default:
			candidates = append(candidates, site)
		}
	}

	for _, site := range reOwn {
		h.Table.InsertActiveCopy(primaryItemName(it), site, group, ActiveCopyNew)
		props.merge(site, it)
	}

	numNew := numCopies - satisfied
	for numNew > 0 {
		if len(candidates) == 0 {
			return fmt.Errorf("cannot satisfy %d copies of %s: no candidate sites remain", numCopies, primaryItemName(it))
		}
		site, ok := policy.FindDestinationFor(it, candidates)
		if !ok {
			return fmt.Errorf("cannot find a destination for %s among %v", primaryItemName(it), candidates)
		}
		candidates = removeString(candidates, site)
		h.Table.InsertActiveCopy(primaryItemName(it), site, group, ActiveCopyNew)
		props.merge(site, it)
		numNew--
	}
	return nil
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func primaryItemName(it Item) string {
	if it.IsWholeDataset() {
		return it.Dataset
	}
	return it.Dataset + "#" + it.Blocks[0]
}

// orderByExistence stably reorders sites so that ones where the item
// partially or fully exists come first, preserving the prior shuffle
// within each existence group.
func orderByExistence(inv *inventory.Inventory, it Item, sites []string) []string {
	out := make([]string, len(sites))
	copy(out, sites)
	sort.SliceStable(out, func(i, j int) bool {
		return existenceOf(inv, it, out[i]) > existenceOf(inv, it, out[j])
	})
	return out
}

// existenceOf classifies how much of item already sits at site: none,
// partial, or full.
func existenceOf(inv *inventory.Inventory, it Item, siteName string) existence {
	site, ok := inv.Sites[siteName]
	if !ok {
		return existenceNone
	}
	dataset, ok := inv.Datasets[it.Dataset]
	if !ok {
		return existenceNone
	}
	if _, ok := dataset.FindReplica(site); !ok {
		return existenceNone
	}

	names := it.Blocks
	if it.IsWholeDataset() {
		for _, b := range dataset.Blocks() {
			names = append(names, b.Name)
		}
	}
	if len(names) == 0 {
		return existenceNone
	}

	present := 0
	for _, bn := range names {
		b, ok := dataset.FindBlock(bn)
		if !ok {
			continue
		}
		if _, ok := b.FindReplica(site); ok {
			present++
		}
	}
	switch {
	case present == 0:
		return existenceNone
	case present == len(names):
		return existenceFull
	default:
		return existencePartial
	}
}

// singleOwningGroup returns the one group that owns every present block
// replica of item at site, ok is false if there are zero or more than one
// distinct owning groups.
func singleOwningGroup(inv *inventory.Inventory, it Item, siteName string) (string, bool) {
	site, ok := inv.Sites[siteName]
	if !ok {
		return "", false
	}
	dataset, ok := inv.Datasets[it.Dataset]
	if !ok {
		return "", false
	}

	names := it.Blocks
	if it.IsWholeDataset() {
		for _, b := range dataset.Blocks() {
			names = append(names, b.Name)
		}
	}

	var owner string
	for _, bn := range names {
		b, ok := dataset.FindBlock(bn)
		if !ok {
			continue
		}
		br, ok := b.FindReplica(site)
		if !ok {
			continue
		}
		if owner == "" {
			owner = br.Group.Name
		} else if owner != br.Group.Name {
			return "", false
		}
	}
	if owner == "" {
		return "", false
	}
	return owner, true
}

// resolveSites expands req's literal names and glob patterns against
// universe, deduplicated and order-preserving.
func resolveSites(names []string, universe []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		matchedAny := false
		for _, u := range universe {
			ok, err := filepath.Match(n, u)
			if err != nil {
				return nil, fmt.Errorf("bad site pattern %q: %w", n, err)
			}
			if ok || n == u {
				matchedAny = true
				if !seen[u] {
					seen[u] = true
					out = append(out, u)
				}
			}
		}
		if !matchedAny {
			// A literal name that isn't in the universe resolves to nothing
			// more than the empty set for that entry; the request as a
			// whole still fails below if the union is empty.
			continue
		}
	}
	return out, nil
}

// resolveRequestItems groups raw item names by dataset: an entry equal to
// a bare dataset name requests the whole dataset; "dataset#block" entries
// accumulate into a block-list item for that dataset.
func resolveRequestItems(inv *inventory.Inventory, names []string) ([]Item, error) {
	order := make([]string, 0, len(names))
	whole := make(map[string]bool)
	blocks := make(map[string][]string)

	for _, n := range names {
		datasetName, blockName, isBlock := inventory.ParseBlockFullName(n)
		if !isBlock {
			datasetName = n
		}
		dataset, ok := inv.Datasets[datasetName]
		if !ok {
			return nil, fmt.Errorf("unknown dataset %s", datasetName)
		}
		if _, seen := blocks[datasetName]; !seen && !whole[datasetName] {
			order = append(order, datasetName)
		}
		if !isBlock {
			whole[datasetName] = true
			continue
		}
		if _, ok := dataset.FindBlock(blockName); !ok {
			return nil, fmt.Errorf("unknown block %s", n)
		}
		blocks[datasetName] = append(blocks[datasetName], blockName)
	}

	out := make([]Item, 0, len(order))
	for _, d := range order {
		if whole[d] {
			out = append(out, Item{Dataset: d})
			continue
		}
		if len(blocks[d]) == 0 {
			return nil, fmt.Errorf("item for dataset %s names no blocks", d)
		}
		out = append(out, Item{Dataset: d, Blocks: blocks[d]})
	}
	return out, nil
}

// resolveItemName resolves an active_copies item string ("dataset" or
// "dataset#block") back into an Item, used when re-enqueuing in-flight
// copies whose item may no longer exist.
func resolveItemName(inv *inventory.Inventory, name string) (Item, bool) {
	datasetName, blockName, isBlock := inventory.ParseBlockFullName(name)
	if !isBlock {
		if _, ok := inv.Datasets[name]; !ok {
			return Item{}, false
		}
		return Item{Dataset: name}, true
	}
	dataset, ok := inv.Datasets[datasetName]
	if !ok {
		return Item{}, false
	}
	if _, ok := dataset.FindBlock(blockName); !ok {
		return Item{}, false
	}
	return Item{Dataset: datasetName, Blocks: []string{blockName}}, true
}

// rejectCause reduces a rejection error to a low-cardinality metric label:
// the first word of its message, which for every rejection path in this
// file is a fixed word ("unknown", "no", "cannot", "site", ...) rather than
// free-form text.
func rejectCause(err error) string {
	msg := err.Error()
	for i, r := range msg {
		if r == ' ' {
			return msg[:i]
		}
	}
	return msg
}
