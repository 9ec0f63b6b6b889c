package presence

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaling-backend/pkg/schedule"
)

const grace = 5 * time.Minute

type registryFixture struct {
	clock    *clock.Mock
	fired    chan func()
	registry *Registry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	fired := make(chan func(), 16)
	sched := schedule.New(mock, func(fn func()) { fired <- fn })
	return &registryFixture{
		clock:    mock,
		fired:    fired,
		registry: NewRegistry(sched, grace),
	}
}

// advance moves the clock and runs every callback that became due
func (f *registryFixture) advance(t *testing.T, d time.Duration, expectFired int) {
	t.Helper()
	f.clock.Add(d)
	for i := 0; i < expectFired; i++ {
		select {
		case fn := <-f.fired:
			fn()
		case <-time.After(time.Second):
			t.Fatalf("expected %d timer callbacks, got %d", expectFired, i)
		}
	}
	select {
	case fn := <-f.fired:
		fn()
		t.Fatalf("unexpected timer callback")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRegister_OverwriteKeepsSingleRecord(t *testing.T) {
	f := newRegistryFixture(t)

	f.registry.Register("alice", "conn-1", "user")
	res := f.registry.Register("alice", "conn-2", "user")

	assert.Equal(t, "conn-1", res.PreviousHandle)
	assert.Empty(t, res.Displaced)
	assert.Equal(t, 1, f.registry.Len())

	rec, ok := f.registry.FindByUser("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", rec.ConnectionHandle)
	assert.True(t, rec.IsOnline)

	_, _, ok = f.registry.FindByConnection("conn-1")
	assert.False(t, ok, "orphaned handle must lose its binding")

	userID, rec, ok := f.registry.FindByConnection("conn-2")
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.Equal(t, "user", rec.Role)
}

func TestRegister_SameHandleDifferentUserReportsDisplaced(t *testing.T) {
	f := newRegistryFixture(t)

	f.registry.Register("alice", "conn-1", "user")
	res := f.registry.Register("bob", "conn-1", "admin")

	assert.Equal(t, "alice", res.Displaced)
	userID, _, ok := f.registry.FindByConnection("conn-1")
	require.True(t, ok)
	assert.Equal(t, "bob", userID)
}

func TestRegister_RefreshesLastSeen(t *testing.T) {
	f := newRegistryFixture(t)

	f.registry.Register("alice", "conn-1", "user")
	first, _ := f.registry.FindByUser("alice")

	f.clock.Add(time.Minute)
	f.registry.Register("alice", "conn-2", "user")
	second, _ := f.registry.FindByUser("alice")

	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestFindByUser_ReturnsCopy(t *testing.T) {
	f := newRegistryFixture(t)
	f.registry.Register("alice", "conn-1", "user")

	rec, _ := f.registry.FindByUser("alice")
	rec.IsOnline = false

	assert.True(t, f.registry.IsOnline("alice"))
}

func TestMarkOffline_UnknownUser(t *testing.T) {
	f := newRegistryFixture(t)

	_, ok := f.registry.MarkOffline("ghost")

	assert.False(t, ok)
}

func TestMarkOffline_GracePeriod(t *testing.T) {
	f := newRegistryFixture(t)
	var purged []string
	f.registry.OnPurge(func(id string) { purged = append(purged, id) })

	f.registry.Register("x", "conn-x", "user")
	lastSeen, ok := f.registry.MarkOffline("x")
	require.True(t, ok)
	assert.True(t, lastSeen.Equal(f.clock.Now()))

	_, _, found := f.registry.FindByConnection("conn-x")
	assert.False(t, found)

	// 4m59s: still known, offline, with lastSeen
	f.advance(t, 4*time.Minute+59*time.Second, 0)
	rec, ok := f.registry.FindByUser("x")
	require.True(t, ok)
	assert.False(t, rec.IsOnline)
	assert.True(t, rec.LastSeen.Equal(lastSeen))

	// 5m01s: purged
	f.advance(t, 2*time.Second, 1)
	_, ok = f.registry.FindByUser("x")
	assert.False(t, ok)
	assert.Equal(t, []string{"x"}, purged)
}

func TestMarkOffline_ReRegisterCancelsPurge(t *testing.T) {
	f := newRegistryFixture(t)
	f.registry.Register("x", "conn-1", "user")
	f.registry.MarkOffline("x")

	f.advance(t, 3*time.Minute, 0)
	f.registry.Register("x", "conn-2", "user")

	f.advance(t, 3*time.Minute, 0)
	rec, ok := f.registry.FindByUser("x")
	require.True(t, ok)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, "conn-2", rec.ConnectionHandle)
}

func TestMarkOffline_StaleExpiryIgnoredAfterReRegister(t *testing.T) {
	f := newRegistryFixture(t)
	f.registry.Register("x", "conn-1", "user")
	f.registry.MarkOffline("x")

	// Let the purge fire but hold its callback, as if it were queued
	// behind the re-registration on the event loop.
	f.clock.Add(grace)
	var stale func()
	select {
	case stale = <-f.fired:
	case <-time.After(time.Second):
		t.Fatal("purge did not fire")
	}

	f.registry.Register("x", "conn-2", "user")
	stale()

	assert.True(t, f.registry.IsOnline("x"))
}

func TestMarkOffline_SecondOfflineReschedules(t *testing.T) {
	f := newRegistryFixture(t)
	f.registry.Register("x", "conn-1", "user")
	f.registry.MarkOffline("x")

	f.advance(t, 4*time.Minute, 0)
	f.registry.Register("x", "conn-2", "user")
	f.registry.MarkOffline("x")

	// Old deadline passes without purging the newer offline record
	f.advance(t, 2*time.Minute, 0)
	_, ok := f.registry.FindByUser("x")
	assert.True(t, ok)

	f.advance(t, 3*time.Minute, 1)
	_, ok = f.registry.FindByUser("x")
	assert.False(t, ok)
}

func TestListOnlineUserIDs(t *testing.T) {
	f := newRegistryFixture(t)
	assert.Empty(t, f.registry.ListOnlineUserIDs())
	assert.NotNil(t, f.registry.ListOnlineUserIDs())

	f.registry.Register("carol", "c", "user")
	f.registry.Register("alice", "a", "user")
	f.registry.Register("bob", "b", "admin")
	f.registry.MarkOffline("carol")

	assert.Equal(t, []string{"alice", "bob"}, f.registry.ListOnlineUserIDs())

	records := f.registry.OnlineRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, "admin", records[1].Role)
}
