package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAppAndOldestNew(t *testing.T) {
	r := New()
	id1 := r.ScheduleApp("skim.py", "/work/skim.py", "alovelace", false, nil, nil)
	id2 := r.ScheduleApp("detox.py", "/work/detox.py", "ghopper", true, []byte("content"), []string{"--dataset", "/X"})

	a, ok := r.OldestNew()
	require.True(t, ok)
	assert.Equal(t, id1, a.ID)
	assert.Equal(t, StatusRun, a.Status) // transitioned as a side effect of being picked up

	b, ok := r.OldestNew()
	require.True(t, ok)
	assert.Equal(t, id2, b.ID)

	_, ok = r.OldestNew()
	assert.False(t, ok, "no NEW rows remain")
}

func TestUpdateApplication(t *testing.T) {
	r := New()
	id := r.ScheduleApp("t", "/p", "u", false, nil, nil)

	require.NoError(t, r.UpdateApplication(id, func(a *Application) {
		a.Status = StatusDone
		a.ExitCode = 0
	}))

	a, ok := r.GetApplication(id)
	require.True(t, ok)
	assert.Equal(t, StatusDone, a.Status)
	assert.Equal(t, 0, a.ExitCode)

	assert.Error(t, r.UpdateApplication(9999, func(a *Application) {}))
}

func TestGetApplicationsFilter(t *testing.T) {
	r := New()
	r.ScheduleApp("t1", "/p1", "alovelace", false, nil, nil)
	r.ScheduleApp("t2", "/p2", "ghopper", false, nil, nil)

	all := r.GetApplications(Filter{})
	assert.Len(t, all, 2)

	onlyAda := r.GetApplications(Filter{User: "alovelace"})
	require.Len(t, onlyAda, 1)
	assert.Equal(t, "t1", onlyAda[0].Title)
}

// TestCheckWriteAuth exercises the Open Question resolution: a wildcard
// AnyUser row authorizes every submitter, and a named row authorizes only
// that exact user.
func TestCheckWriteAuth(t *testing.T) {
	r := New()
	r.AuthorizeExecutable("skim.py", "deadbeef", AnyUser)
	r.AuthorizeExecutable("detox.py", "cafef00d", "ghopper")

	assert.True(t, r.CheckWriteAuth("skim.py", "deadbeef", "alovelace"))
	assert.True(t, r.CheckWriteAuth("skim.py", "deadbeef", "ghopper"))
	assert.True(t, r.CheckWriteAuth("detox.py", "cafef00d", "ghopper"))
	assert.False(t, r.CheckWriteAuth("detox.py", "cafef00d", "alovelace"))
	assert.False(t, r.CheckWriteAuth("detox.py", "wrongsum", "ghopper"))
	assert.False(t, r.CheckWriteAuth("unknown.py", "deadbeef", "ghopper"))
}

func TestWriteLockExclusion(t *testing.T) {
	w := NewWriteLock()
	require.NoError(t, w.Lock("daemon"))
	assert.True(t, w.InhibitWrite())
	assert.Error(t, w.Lock("dealer"))

	w.Unlock()
	assert.False(t, w.InhibitWrite())
	assert.NoError(t, w.Lock("dealer"))
}

func TestStartStopWriteWeb(t *testing.T) {
	w := NewWriteLock()
	_, _, ok := w.WebWriter()
	assert.False(t, ok)

	w.StartWriteWeb("web-1.example.org", 4242)
	host, pid, ok := w.WebWriter()
	assert.True(t, ok)
	assert.Equal(t, "web-1.example.org", host)
	assert.Equal(t, 4242, pid)

	w.StopWriteWeb()
	_, _, ok = w.WebWriter()
	assert.False(t, ok)
}
