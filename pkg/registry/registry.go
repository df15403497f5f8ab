package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dynamo-go/dynamo/pkg/events"
	"github.com/dynamo-go/dynamo/pkg/metrics"
)

// AnyUser is the authorized_executables wildcard user id meaning "any
// submitter", mirroring the checksum-table's 0 sentinel.
const AnyUser = ""

// executableKey identifies one authorized_executables row.
type executableKey struct {
	title    string
	checksum string
}

// Registry is the in-memory application table plus the authorized
// executables checksum table. Like pkg/store, the relational schema behind
// this table is an external collaborator; Registry is the one concrete
// (embedded) stand-in, consulted and mutated by the application server, the
// daemon main loop, and nothing else.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	apps   map[int64]*Application
	execs  map[executableKey]string // checksum/title -> authorized user (AnyUser = wildcard)

	broker *events.Broker
}

// New returns an empty registry with its own lifecycle-event broker
// started and ready.
func New() *Registry {
	b := events.NewBroker()
	b.Start()
	return &Registry{apps: make(map[int64]*Application), broker: b}
}

// Events returns the broker the application server's synchronous submit
// path subscribes to for this registry's status transitions.
func (r *Registry) Events() *events.Broker { return r.broker }

// ScheduleApp inserts a new application row with status NEW and returns its
// generated id.
func (r *Registry) ScheduleApp(title, path, user string, writeRequest bool, content []byte, args []string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.apps[id] = &Application{
		ID: id, Title: title, Path: path, User: user,
		Status: StatusNew, Timestamp: time.Now(), WriteRequest: writeRequest, Content: content, Args: args,
	}
	r.broker.Publish(events.Event{AppID: id, Type: events.AppScheduled})
	metrics.ApplicationsScheduled.Inc()
	metrics.ApplicationsTotal.WithLabelValues(string(StatusNew)).Inc()
	return id
}

// GetApplications returns every row matching filter, ordered by id.
func (r *Registry) GetApplications(filter Filter) []Application {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Application
	for _, a := range r.apps {
		if filter.matches(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetApplication returns the row for id.
func (r *Registry) GetApplication(id int64) (Application, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[id]
	if !ok {
		return Application{}, false
	}
	return *a, true
}

// OldestNew returns the lowest-id row with status NEW, transitioning it to
// RUN as the daemon's main loop step 1 requires. The transition and the
// read happen under the same lock so two daemons (there should only ever be
// one) can't both pick up the same row.
func (r *Registry) OldestNew() (Application, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *Application
	for _, a := range r.apps {
		if a.Status != StatusNew {
			continue
		}
		if oldest == nil || a.ID < oldest.ID {
			oldest = a
		}
	}
	if oldest == nil {
		return Application{}, false
	}
	metrics.ApplicationsTotal.WithLabelValues(string(StatusNew)).Dec()
	oldest.Status = StatusRun
	metrics.ApplicationsTotal.WithLabelValues(string(StatusRun)).Inc()
	r.broker.Publish(events.Event{AppID: oldest.ID, Type: events.AppRunning})
	return *oldest, true
}

// UpdateApplication applies fn to the stored row for id under the
// registry's lock, the generic counterpart to SQL's
// "UPDATE action SET ... WHERE id = ?".
func (r *Registry) UpdateApplication(id int64, fn func(a *Application)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[id]
	if !ok {
		return fmt.Errorf("registry: unknown application %d", id)
	}
	before := a.Status
	fn(a)
	if a.Status != before {
		metrics.ApplicationsTotal.WithLabelValues(string(before)).Dec()
		metrics.ApplicationsTotal.WithLabelValues(string(a.Status)).Inc()
		if t, ok := statusEventType[a.Status]; ok {
			r.broker.Publish(events.Event{AppID: id, Type: t})
		}
	}
	return nil
}

var statusEventType = map[Status]events.Type{
	StatusRun:    events.AppRunning,
	StatusDone:   events.AppDone,
	StatusFailed: events.AppFailed,
	StatusKilled: events.AppKilled,
}

// AuthorizeExecutable registers (title, checksum) as runnable by user (or
// by anyone, if user == AnyUser).
func (r *Registry) AuthorizeExecutable(title, checksum, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.execs == nil {
		r.execs = make(map[executableKey]string)
	}
	r.execs[executableKey{title: title, checksum: checksum}] = user
}

// CheckWriteAuth reports whether a write request for title, with content
// checksumming to checksum, is authorized for user: either an AnyUser
// wildcard row exists, or a row naming exactly this user's id exists.
func (r *Registry) CheckWriteAuth(title, checksum, user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	authorized, ok := r.execs[executableKey{title: title, checksum: checksum}]
	if !ok {
		return false
	}
	return authorized == AnyUser || authorized == user
}
