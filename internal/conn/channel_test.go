package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wavesock "github.com/wavesock/wavesock-go"
)

func TestBindingTable(t *testing.T) {
	t.Run("bind returns distinct ids", func(t *testing.T) {
		tbl := newBindingTable()
		id1 := tbl.bind("ev", func(wavesock.Event) {})
		id2 := tbl.bind("ev", func(wavesock.Event) {})
		assert.NotEqual(t, id1, id2)
		assert.Len(t, tbl.handlersFor("ev"), 2)
	})

	t.Run("unbind removes exactly one binding", func(t *testing.T) {
		tbl := newBindingTable()
		id1 := tbl.bind("ev", func(wavesock.Event) {})
		tbl.bind("ev", func(wavesock.Event) {})
		tbl.unbind(id1)
		assert.Len(t, tbl.handlersFor("ev"), 1)
	})

	t.Run("unbind of unknown id is a no-op", func(t *testing.T) {
		tbl := newBindingTable()
		tbl.bind("ev", func(wavesock.Event) {})
		tbl.unbind("nope")
		assert.Len(t, tbl.handlersFor("ev"), 1)
	})

	t.Run("unbindAll clears every event", func(t *testing.T) {
		tbl := newBindingTable()
		tbl.bind("a", func(wavesock.Event) {})
		tbl.bind("b", func(wavesock.Event) {})
		tbl.unbindAll()
		assert.Nil(t, tbl.handlersFor("a"))
		assert.Nil(t, tbl.handlersFor("b"))
	})

	t.Run("handlers for unknown event", func(t *testing.T) {
		tbl := newBindingTable()
		assert.Nil(t, tbl.handlersFor("missing"))
	})
}

func TestChannelKindDerivation(t *testing.T) {
	tests := []struct {
		name string
		want wavesock.ChannelKind
	}{
		{name: "chat", want: wavesock.ChannelPublic},
		{name: "private-orders", want: wavesock.ChannelPrivate},
		{name: "presence-room", want: wavesock.ChannelPresence},
		{name: "privateer", want: wavesock.ChannelPublic},
	}
	for _, tt := range tests {
		ch := newChannel(nil, tt.name)
		assert.Equal(t, tt.want, ch.Kind(), "channel %q", tt.name)
	}
}

func TestDrainUnsentIsLIFO(t *testing.T) {
	ch := newChannel(nil, "private-x")
	ch.bufferClientEvent("client-a", 1)
	ch.bufferClientEvent("client-b", 2)
	ch.bufferClientEvent("client-c", 3)

	drained := ch.drainUnsent()
	require.Len(t, drained, 3)
	assert.Equal(t, "client-c", drained[0].name)
	assert.Equal(t, "client-b", drained[1].name)
	assert.Equal(t, "client-a", drained[2].name)

	assert.Nil(t, ch.drainUnsent(), "second drain should be empty")
}

func TestRosterUniquenessByUserID(t *testing.T) {
	ch := newChannel(nil, "presence-x")
	ch.seedRoster([]wavesock.Member{
		{UserID: "u1", UserInfo: "a"},
		{UserID: "u2", UserInfo: "b"},
	})

	// Adding an existing id updates in place rather than duplicating.
	ch.addMember(wavesock.Member{UserID: "u1", UserInfo: "a2"})
	assert.Equal(t, 2, ch.MemberCount())
	m, ok := ch.Member("u1")
	require.True(t, ok)
	assert.Equal(t, "a2", m.UserInfo)

	ch.addMember(wavesock.Member{UserID: "u3", UserInfo: "c"})
	assert.Equal(t, 3, ch.MemberCount())

	removed, _, ok := ch.removeMember("u2")
	require.True(t, ok)
	assert.Equal(t, "u2", removed.UserID)
	assert.Equal(t, 2, ch.MemberCount())

	_, _, ok = ch.removeMember("u2")
	assert.False(t, ok, "removing twice should report absence")
}

func TestRosterMe(t *testing.T) {
	ch := newChannel(nil, "presence-x")
	ch.seedRoster([]wavesock.Member{{UserID: "u1"}, {UserID: "u2"}})

	_, ok := ch.Me()
	assert.False(t, ok, "unknown local id yields no member")

	ch.setMyID("u2")
	me, ok := ch.Me()
	require.True(t, ok)
	assert.Equal(t, "u2", me.UserID)
}

func TestMarkUnsubscribedClearsRoster(t *testing.T) {
	ch := newChannel(nil, "presence-x")
	ch.seedRoster([]wavesock.Member{{UserID: "u1"}})
	ch.markSubscribed()

	ch.markUnsubscribed()
	assert.False(t, ch.IsSubscribed())
	assert.Zero(t, ch.MemberCount())
}

func TestMembersReturnsSnapshot(t *testing.T) {
	ch := newChannel(nil, "presence-x")
	ch.seedRoster([]wavesock.Member{{UserID: "u1"}})

	snapshot := ch.Members()
	ch.addMember(wavesock.Member{UserID: "u2"})
	assert.Len(t, snapshot, 1, "snapshot must not track later mutations")
}
