package dealer

import (
	"sort"
	"sync"
	"time"
)

// RequestTable holds the pending copy_requests (plus their sites/items
// join) and the active_copies rows, each guarded by its own lock the way
// the source takes a write lock on "the request tables" and a separate one
// on "active_copies" (step 1 vs step 2 of the cycle).
type RequestTable struct {
	reqMu     sync.Mutex
	nextReqID int64
	requests  map[int64]*CopyRequest

	activeMu  sync.Mutex
	nextCopID int64
	active    map[int64]*ActiveCopy
}

// NewRequestTable returns an empty table.
func NewRequestTable() *RequestTable {
	return &RequestTable{
		requests: make(map[int64]*CopyRequest),
		active:   make(map[int64]*ActiveCopy),
	}
}

// Submit inserts a new pending request with status new and returns its id.
func (t *RequestTable) Submit(group string, numCopies int, sites, items []string) int64 {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	t.nextReqID++
	id := t.nextReqID
	t.requests[id] = &CopyRequest{
		ID: id, Group: group, NumCopies: numCopies,
		FirstTime: time.Now(), SiteNames: sites, ItemNames: items,
		Status: RequestNew,
	}
	return id
}

// PendingRequests returns every status=new request, ordered by id (and
// hence by submission time), the order step 2 groups rows in.
func (t *RequestTable) PendingRequests() []*CopyRequest {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	out := make([]*CopyRequest, 0, len(t.requests))
	for _, r := range t.requests {
		if r.Status == RequestNew {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetRequestStatus transitions a request to activated or rejected.
func (t *RequestTable) SetRequestStatus(id int64, status RequestStatus, cause string) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	if r, ok := t.requests[id]; ok {
		r.Status = status
		r.RejectCause = cause
	}
}

// ActiveNew returns every active_copies row with status new, the set step
// 1 re-enqueues every cycle.
func (t *RequestTable) ActiveNew() []*ActiveCopy {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	out := make([]*ActiveCopy, 0, len(t.active))
	for _, a := range t.active {
		if a.Status == ActiveCopyNew {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InsertActiveCopy commits a new active_copies row and returns its id.
func (t *RequestTable) InsertActiveCopy(item, site, group string, status ActiveCopyStatus) int64 {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	t.nextCopID++
	id := t.nextCopID
	t.active[id] = &ActiveCopy{ID: id, Item: item, Site: site, Group: group, Status: status}
	return id
}

// MarkActiveFailed transitions one active_copies row to failed, used when
// step 1 finds a row whose item or site no longer resolves.
func (t *RequestTable) MarkActiveFailed(id int64) {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	if a, ok := t.active[id]; ok {
		a.Status = ActiveCopyFailed
	}
}

// Postprocess transitions every active_copies row with status new, whose
// (site, item) matches one of accepted, to queued — the transfer
// back-end's acceptance signal. Matching is by site plus an "item LIKE
// dataset" or "item LIKE dataset#%" pattern, i.e. a whole-dataset accepted
// request also queues any block-level rows of the same dataset at that
// site.
func (t *RequestTable) Postprocess(accepted []DealerRequest) {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	for _, req := range accepted {
		for _, a := range t.active {
			if a.Status != ActiveCopyNew || a.Site != req.Destination {
				continue
			}
			if itemLikeMatches(req.Item.Dataset, a.Item) {
				a.Status = ActiveCopyQueued
			}
		}
	}
}

// itemLikeMatches reimplements the SQL "item LIKE '<dataset>'" OR
// "item LIKE '<dataset>#%'" pattern match.
func itemLikeMatches(dataset, item string) bool {
	if item == dataset {
		return true
	}
	return len(item) > len(dataset)+1 && item[:len(dataset)+1] == dataset+"#"
}

// ActiveCopies returns a snapshot of every active_copies row, for tests and
// diagnostics.
func (t *RequestTable) ActiveCopies() []*ActiveCopy {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	out := make([]*ActiveCopy, 0, len(t.active))
	for _, a := range t.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
