package realtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusapps/roomcast/internal/realtime"
)

func TestPresenceIsOnline(t *testing.T) {
	c := newCore(coreOptions{})

	assert.False(t, c.presence.IsOnline("alice"))

	id, _ := c.connect(t, "alice")
	assert.True(t, c.presence.IsOnline("alice"))

	c.gateway.Disconnect(id)
	assert.False(t, c.presence.IsOnline("alice"))
}

func TestPresenceMultiTabStaysOnline(t *testing.T) {
	c := newCore(coreOptions{})
	tab1, _ := c.connect(t, "alice")
	tab2, _ := c.connect(t, "alice")

	c.gateway.Disconnect(tab1)
	assert.True(t, c.presence.IsOnline("alice"), "user stays online while a tab remains")

	c.gateway.Disconnect(tab2)
	assert.False(t, c.presence.IsOnline("alice"))
}

func TestPresenceOnlineMembersOf(t *testing.T) {
	c := newCore(coreOptions{})
	c.connect(t, "carol", realtime.GlobalRoom)
	c.connect(t, "alice", realtime.GlobalRoom)
	c.connect(t, "alice", realtime.GlobalRoom)
	c.connect(t, "", realtime.GlobalRoom) // anonymous, not represented

	assert.Equal(t, []realtime.Identity{"alice", "carol"}, c.presence.OnlineMembersOf(realtime.GlobalRoom))
}

func TestPresenceOnlineMembersOfEmptyRoom(t *testing.T) {
	c := newCore(coreOptions{})
	assert.Empty(t, c.presence.OnlineMembersOf("team-42"))
}

func TestPresenceOnlineAnnouncedToAdminRoom(t *testing.T) {
	c := newCore(coreOptions{})
	_, watcher := c.connect(t, "ops", realtime.AdminRoom)

	c.connect(t, "alice")

	got := watcher.eventsOfType(t, realtime.EventPresenceChanged)
	require.Len(t, got, 1)
	assert.Equal(t, realtime.Identity("alice"), got[0].Identity)
	assert.True(t, got[0].Online)
}

func TestPresenceSecondTabDoesNotReannounce(t *testing.T) {
	c := newCore(coreOptions{})
	_, watcher := c.connect(t, "ops", realtime.AdminRoom)

	c.connect(t, "alice")
	c.connect(t, "alice")

	assert.Len(t, watcher.eventsOfType(t, realtime.EventPresenceChanged), 1,
		"only the first connection announces online")
}

func TestPresenceOfflineAnnouncedToSharedRooms(t *testing.T) {
	c := newCore(coreOptions{})
	_, watcher := c.connect(t, "ops", realtime.AdminRoom)
	aliceID, _ := c.connect(t, "alice", "team-42")
	_, teammate := c.connect(t, "bob", "team-42")

	c.gateway.Disconnect(aliceID)

	adminGot := watcher.eventsOfType(t, realtime.EventPresenceChanged)
	require.NotEmpty(t, adminGot)
	last := adminGot[len(adminGot)-1]
	assert.Equal(t, realtime.Identity("alice"), last.Identity)
	assert.False(t, last.Online)

	teamGot := teammate.eventsOfType(t, realtime.EventPresenceChanged)
	require.Len(t, teamGot, 1)
	assert.Equal(t, realtime.Identity("alice"), teamGot[0].Identity)
	assert.False(t, teamGot[0].Online)
}

func TestPresenceNoOfflineWhileTabRemains(t *testing.T) {
	c := newCore(coreOptions{})
	tab1, _ := c.connect(t, "alice", "team-42")
	c.connect(t, "alice", "team-42")
	_, teammate := c.connect(t, "bob", "team-42")

	c.gateway.Disconnect(tab1)

	assert.Empty(t, teammate.eventsOfType(t, realtime.EventPresenceChanged),
		"no offline announcement while another tab is open")
}

func TestPresenceAnonymousNeverAnnounced(t *testing.T) {
	c := newCore(coreOptions{})
	_, watcher := c.connect(t, "ops", realtime.AdminRoom)

	id, _ := c.connect(t, "")
	c.gateway.Disconnect(id)

	assert.Empty(t, watcher.eventsOfType(t, realtime.EventPresenceChanged))
}
