// Package dealer implements the copy-request handler: the per-cycle
// algorithm that turns pending copy requests and in-flight active copies
// into a validated, deduplicated list of DealerRequests for the transfer
// back-end, respecting quotas (via Policy), already-in-flight proposals,
// ownership-override policy, and size ceilings.
//
// The request and active-copy tables are, like the rest of the persisted
// state, external collaborators in principle; RequestTable is this
// package's in-memory stand-in, analogous to how pkg/registry stands in
// for the application table.
package dealer

import "time"

// RequestStatus is the lifecycle state of a pending copy_requests row.
type RequestStatus string

const (
	RequestNew       RequestStatus = "new"
	RequestActivated RequestStatus = "activated"
	RequestRejected  RequestStatus = "rejected"
)

// ActiveCopyStatus is the lifecycle state of an active_copies row.
type ActiveCopyStatus string

const (
	ActiveCopyNew       ActiveCopyStatus = "new"
	ActiveCopyQueued    ActiveCopyStatus = "queued"
	ActiveCopyCompleted ActiveCopyStatus = "completed"
	ActiveCopyFailed    ActiveCopyStatus = "failed"
)

// CopyRequest is the join of copy_requests, copy_request_sites and
// copy_request_items grouped by request id, the shape step 2 of the cycle
// algorithm groups pending rows into.
type CopyRequest struct {
	ID          int64
	Group       string
	NumCopies   int // 0 means "every resolved site"
	FirstTime   time.Time
	SiteNames   []string // literals and/or glob patterns against policy.TargetSites()
	ItemNames   []string // dataset names and/or "dataset#block" full names
	Status      RequestStatus
	RejectCause string
}

// ActiveCopy is one active_copies row: an in-flight or queued placement.
type ActiveCopy struct {
	ID     int64
	Item   string // dataset name, or "dataset#block"
	Site   string
	Group  string
	Status ActiveCopyStatus
}

// Item is a resolved request target: either a whole dataset (Blocks nil)
// or a non-empty list of blocks belonging to one dataset.
type Item struct {
	Dataset string
	Blocks  []string // nil/empty => whole dataset
}

// FullNames returns the wire-form "dataset#block" name of every block this
// item names, or a single dataset name if it's a whole-dataset item.
func (it Item) FullNames() []string {
	if len(it.Blocks) == 0 {
		return []string{it.Dataset}
	}
	out := make([]string, len(it.Blocks))
	for i, b := range it.Blocks {
		out[i] = it.Dataset + "#" + b
	}
	return out
}

// IsWholeDataset reports whether this item names the entire dataset.
func (it Item) IsWholeDataset() bool { return len(it.Blocks) == 0 }

// DealerRequest is a (item, destination, group) placement proposed to the
// transfer back-end. CopyRequestHandler.Cycle leaves Group empty: its
// proposals are merged per site and dataset and do not record the
// requesting group.
type DealerRequest struct {
	Item        Item
	Destination string
	Group       string
}

// Policy supplies the tunables and site-selection decisions that are,
// per spec, external to the algorithm itself: the active partition,
// the resolvable site universe, size ceilings, the re-ownable group set,
// and the destination-selection calls the algorithm defers to.
type Policy interface {
	// ActivePartition names the partition the dealer schedules against.
	ActivePartition() string
	// TargetSites returns every site name a request's site list may
	// resolve against, literally or via glob pattern.
	TargetSites() []string
	// MaxSize is the absolute size ceiling for a single request's item.
	MaxSize() int64
	// BlockRequestMax is the fraction of a dataset's total size beyond
	// which a block-list request is promoted to a whole-dataset request.
	BlockRequestMax() float64
	// OverwrittenGroups names the groups whose existing replicas may be
	// re-owned by a new request instead of being left alone.
	OverwrittenGroups() map[string]bool
	// CheckDestination reports whether site is an acceptable destination
	// for item (quota, status, etc.); a non-nil error rejects the whole
	// request that contains this (item, site) pair.
	CheckDestination(item Item, site string) error
	// FindDestinationFor chooses one of candidates to hold a new replica
	// of item; ok is false if none of candidates can take it. The caller
	// removes the chosen site from candidates.
	FindDestinationFor(item Item, candidates []string) (site string, ok bool)
}
