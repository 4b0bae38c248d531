package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusapps/roomcast/internal/realtime"
)

func TestGatewaySendRoundTrip(t *testing.T) {
	c := newCore(coreOptions{})
	aliceID, trA := c.connect(t, "alice", "team-42")
	_, trB := c.connect(t, "bob", "team-42")

	ev, err := c.gateway.Send(context.Background(), aliceID, "team-42", json.RawMessage(`"hello"`))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, uint64(1), ev.Sequence)

	got := trB.eventsOfType(t, realtime.EventMessageReceived)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, realtime.Identity("alice"), got[0].Author)
	assert.Empty(t, trA.eventsOfType(t, realtime.EventMessageReceived),
		"sender must not receive an echo")
}

func TestGatewaySendSequencesPerRoom(t *testing.T) {
	c := newCore(coreOptions{})
	id, _ := c.connect(t, "alice", "team-42", "team-7")

	ctx := context.Background()
	ev1, err := c.gateway.Send(ctx, id, "team-42", json.RawMessage(`"a"`))
	require.NoError(t, err)
	ev2, err := c.gateway.Send(ctx, id, "team-42", json.RawMessage(`"b"`))
	require.NoError(t, err)
	other, err := c.gateway.Send(ctx, id, "team-7", json.RawMessage(`"c"`))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev1.Sequence)
	assert.Equal(t, uint64(2), ev2.Sequence)
	assert.Equal(t, uint64(1), other.Sequence, "sequences are per room")
}

func TestGatewaySendRequiresMembership(t *testing.T) {
	c := newCore(coreOptions{})
	id, _ := c.connect(t, "alice")
	_, trB := c.connect(t, "bob", "team-42")

	_, err := c.gateway.Send(context.Background(), id, "team-42", json.RawMessage(`"x"`))

	assert.ErrorIs(t, err, realtime.ErrRoomAccessDenied)
	assert.Empty(t, trB.eventsOfType(t, realtime.EventMessageReceived))
	assert.Empty(t, c.store.messagesIn("team-42"), "rejected send must not be recorded")
}

func TestGatewayDurableWriteFailureSuppressesFanout(t *testing.T) {
	c := newCore(coreOptions{})
	aliceID, _ := c.connect(t, "alice", "team-42")
	_, trB := c.connect(t, "bob", "team-42")
	c.store.setFail(true)

	_, err := c.gateway.Send(context.Background(), aliceID, "team-42", json.RawMessage(`"lost"`))

	assert.ErrorIs(t, err, realtime.ErrDurableWriteFailed)
	assert.Empty(t, trB.eventsOfType(t, realtime.EventMessageReceived),
		"a failed durable write must deliver nothing")
}

func TestGatewayJoinAcksAndConfirms(t *testing.T) {
	c := newCore(coreOptions{})
	tr := &fakeTransport{}
	id := c.gateway.Connect(tr, "alice")

	n, err := c.gateway.Join(context.Background(), id, "team-42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := tr.eventsOfType(t, realtime.EventRoomJoined)
	require.Len(t, got, 1)
	assert.Equal(t, realtime.RoomID("team-42"), got[0].Room)
	assert.Equal(t, 1, got[0].Members)
}

func TestGatewayJoinReplaysRecentHistory(t *testing.T) {
	c := newCore(coreOptions{historyLimit: 2})
	senderID, _ := c.connect(t, "alice", "team-42")
	ctx := context.Background()
	for _, msg := range []string{`"one"`, `"two"`, `"three"`} {
		_, err := c.gateway.Send(ctx, senderID, "team-42", json.RawMessage(msg))
		require.NoError(t, err)
	}

	_, tr := c.connect(t, "bob", "team-42")

	got := tr.eventsOfType(t, realtime.EventMessageReceived)
	require.Len(t, got, 2, "replay is bounded by the history limit")
	assert.Equal(t, uint64(2), got[0].Sequence)
	assert.Equal(t, uint64(3), got[1].Sequence)
}

func TestGatewayHistoryReplayDisabled(t *testing.T) {
	c := newCore(coreOptions{})
	senderID, _ := c.connect(t, "alice", "team-42")
	_, err := c.gateway.Send(context.Background(), senderID, "team-42", json.RawMessage(`"one"`))
	require.NoError(t, err)

	_, tr := c.connect(t, "bob", "team-42")

	assert.Empty(t, tr.eventsOfType(t, realtime.EventMessageReceived))
}

func TestGatewaySendToUser(t *testing.T) {
	c := newCore(coreOptions{})
	senderID, _ := c.connect(t, "alice")
	_, tab1 := c.connect(t, "bob")
	_, tab2 := c.connect(t, "bob")

	ev, err := c.gateway.SendToUser(context.Background(), senderID, "bob", json.RawMessage(`"ping"`))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	for _, tr := range []*fakeTransport{tab1, tab2} {
		got := tr.eventsOfType(t, realtime.EventNotificationReceived)
		require.Len(t, got, 1)
		assert.Equal(t, json.RawMessage(`"ping"`), got[0].Payload)
	}
}

func TestGatewaySendToUserRequiresAuth(t *testing.T) {
	c := newCore(coreOptions{})
	id, _ := c.connect(t, "")

	_, err := c.gateway.SendToUser(context.Background(), id, "bob", json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, realtime.ErrAuthRequired)
}

func TestGatewaySendToOfflineUserStillRecorded(t *testing.T) {
	c := newCore(coreOptions{})
	senderID, _ := c.connect(t, "alice")

	ev, err := c.gateway.SendToUser(context.Background(), senderID, "ghost", json.RawMessage(`"hi"`))

	require.NoError(t, err, "durable delivery does not depend on the recipient being online")
	assert.NotEmpty(t, ev.ID)
}

func TestGatewayDisconnectCleansMemberships(t *testing.T) {
	c := newCore(coreOptions{})
	id, _ := c.connect(t, "alice", "team-42", realtime.GlobalRoom)

	c.gateway.Disconnect(id)

	assert.Empty(t, c.directory.RoomsOf(id))
	assert.Empty(t, c.directory.MembersOf("team-42"))
	assert.False(t, c.presence.IsOnline("alice"))
}

func TestGatewayRejoinAfterReconnect(t *testing.T) {
	c := newCore(coreOptions{})
	oldID, _ := c.connect(t, "alice", "team-42")
	c.gateway.Disconnect(oldID)

	newID, tr := c.connect(t, "alice", "team-42")
	_, trB := c.connect(t, "bob", "team-42")

	assert.Len(t, c.directory.MembersOf("team-42"), 2, "stale membership must not linger")

	_, err := c.gateway.Send(context.Background(), newID, "team-42", json.RawMessage(`"back"`))
	require.NoError(t, err)
	assert.Len(t, trB.eventsOfType(t, realtime.EventMessageReceived), 1)
	assert.Empty(t, tr.eventsOfType(t, realtime.EventMessageReceived))
}

func TestGatewayConcurrentSendsKeepRoomOrder(t *testing.T) {
	c := newCore(coreOptions{})
	const senders = 8
	const perSender = 25

	ids := make([]realtime.ConnID, senders)
	for i := range ids {
		ids[i], _ = c.connect(t, realtime.Identity(fmt.Sprintf("user-%d", i)), "team-42")
	}
	_, receiver := c.connect(t, "watcher", "team-42")

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id realtime.ConnID) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := c.gateway.Send(context.Background(), id, "team-42", json.RawMessage(`"m"`))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	got := receiver.eventsOfType(t, realtime.EventMessageReceived)
	require.Len(t, got, senders*perSender)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Sequence, got[i-1].Sequence,
			"delivery order must follow sequence order")
	}
}

func TestGatewayHeartbeatUnknownConnection(t *testing.T) {
	c := newCore(coreOptions{})
	err := c.gateway.Heartbeat("nope")
	assert.ErrorIs(t, err, realtime.ErrUnknownConnection)
}

func TestGatewayStats(t *testing.T) {
	c := newCore(coreOptions{})
	c.connect(t, "alice", "team-42")
	c.connect(t, "alice")
	c.connect(t, "bob", "team-42", realtime.GlobalRoom)

	stats := c.gateway.Stats()
	assert.Equal(t, 3, stats["connections"])
	assert.Equal(t, 2, stats["online_users"])
	assert.Equal(t, 2, stats["rooms"])
}
