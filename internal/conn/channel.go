package conn

import (
	"sync"

	"github.com/google/uuid"

	wavesock "github.com/wavesock/wavesock-go"
)

// binding is one registered event handler.
type binding struct {
	id string
	fn wavesock.EventHandler
}

// bindingTable holds event-name-keyed handler lists. One table exists per
// channel plus one global table on the connection.
type bindingTable struct {
	mu      sync.RWMutex
	byEvent map[string][]binding
}

func newBindingTable() *bindingTable {
	return &bindingTable{byEvent: make(map[string][]binding)}
}

func (t *bindingTable) bind(eventName string, fn wavesock.EventHandler) string {
	id := uuid.New().String()
	t.mu.Lock()
	t.byEvent[eventName] = append(t.byEvent[eventName], binding{id: id, fn: fn})
	t.mu.Unlock()
	return id
}

func (t *bindingTable) unbind(bindingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for eventName, list := range t.byEvent {
		for i, b := range list {
			if b.id == bindingID {
				t.byEvent[eventName] = append(list[:i:i], list[i+1:]...)
				if len(t.byEvent[eventName]) == 0 {
					delete(t.byEvent, eventName)
				}
				return
			}
		}
	}
}

func (t *bindingTable) unbindAll() {
	t.mu.Lock()
	t.byEvent = make(map[string][]binding)
	t.mu.Unlock()
}

// handlersFor snapshots the handlers bound to an event name so they can be
// invoked without holding the table lock.
func (t *bindingTable) handlersFor(eventName string) []wavesock.EventHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.byEvent[eventName]
	if len(list) == 0 {
		return nil
	}
	handlers := make([]wavesock.EventHandler, len(list))
	for i, b := range list {
		handlers[i] = b.fn
	}
	return handlers
}

// clientEvent is a buffered outbound client event awaiting subscription.
type clientEvent struct {
	name string
	data any
}

// channel implements wavesock.Channel and wavesock.PresenceChannel. The
// kind is derived once from the name; presence state stays zero for the
// other kinds.
type channel struct {
	name string
	kind wavesock.ChannelKind
	conn *Connection

	bindings *bindingTable

	mu         sync.Mutex
	subscribed bool
	unsent     []clientEvent

	// presence state
	members         []wavesock.Member
	myID            string
	onMemberAdded   func(wavesock.Member)
	onMemberRemoved func(wavesock.Member)
}

var _ wavesock.PresenceChannel = (*channel)(nil)

func newChannel(c *Connection, name string) *channel {
	return &channel{
		name:     name,
		kind:     wavesock.KindOfChannel(name),
		conn:     c,
		bindings: newBindingTable(),
	}
}

func (ch *channel) Name() string { return ch.name }

func (ch *channel) Kind() wavesock.ChannelKind { return ch.kind }

func (ch *channel) IsSubscribed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.subscribed
}

func (ch *channel) Bind(eventName string, handler wavesock.EventHandler) string {
	return ch.bindings.bind(eventName, handler)
}

func (ch *channel) Unbind(bindingID string) {
	ch.bindings.unbind(bindingID)
}

func (ch *channel) UnbindAll() {
	ch.bindings.unbindAll()
}

func (ch *channel) Trigger(eventName string, data any) error {
	return ch.conn.trigger(ch, eventName, data)
}

// bufferClientEvent queues a client event until the subscription succeeds.
func (ch *channel) bufferClientEvent(eventName string, data any) {
	ch.mu.Lock()
	ch.unsent = append(ch.unsent, clientEvent{name: eventName, data: data})
	ch.mu.Unlock()
}

// drainUnsent pops the buffered client events from the tail, so they flush
// in LIFO order.
func (ch *channel) drainUnsent() []clientEvent {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.unsent) == 0 {
		return nil
	}
	drained := make([]clientEvent, 0, len(ch.unsent))
	for i := len(ch.unsent) - 1; i >= 0; i-- {
		drained = append(drained, ch.unsent[i])
	}
	ch.unsent = nil
	return drained
}

func (ch *channel) markSubscribed() {
	ch.mu.Lock()
	ch.subscribed = true
	ch.mu.Unlock()
}

// markUnsubscribed clears the subscribed flag and the presence roster. The
// roster is rebuilt from the subscription_succeeded payload on resubscribe.
func (ch *channel) markUnsubscribed() {
	ch.mu.Lock()
	ch.subscribed = false
	ch.members = nil
	ch.mu.Unlock()
}

func (ch *channel) setObservers(onAdded, onRemoved func(wavesock.Member)) {
	ch.mu.Lock()
	ch.onMemberAdded = onAdded
	ch.onMemberRemoved = onRemoved
	ch.mu.Unlock()
}

func (ch *channel) setMyID(userID string) {
	ch.mu.Lock()
	ch.myID = userID
	ch.mu.Unlock()
}

// Members returns a snapshot of the roster in arrival order.
func (ch *channel) Members() []wavesock.Member {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	members := make([]wavesock.Member, len(ch.members))
	copy(members, ch.members)
	return members
}

func (ch *channel) Member(userID string) (wavesock.Member, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, m := range ch.members {
		if m.UserID == userID {
			return m, true
		}
	}
	return wavesock.Member{}, false
}

func (ch *channel) Me() (wavesock.Member, bool) {
	ch.mu.Lock()
	myID := ch.myID
	ch.mu.Unlock()
	if myID == "" {
		return wavesock.Member{}, false
	}
	return ch.Member(myID)
}

func (ch *channel) MemberCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.members)
}

// seedRoster replaces the roster with the membership carried by the
// subscription_succeeded payload.
func (ch *channel) seedRoster(members []wavesock.Member) {
	ch.mu.Lock()
	ch.members = members
	ch.mu.Unlock()
}

// addMember inserts or updates a roster entry, unique by user id, and
// returns the observer to fire.
func (ch *channel) addMember(m wavesock.Member) func(wavesock.Member) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i, existing := range ch.members {
		if existing.UserID == m.UserID {
			ch.members[i] = m
			return ch.onMemberAdded
		}
	}
	ch.members = append(ch.members, m)
	return ch.onMemberAdded
}

// removeMember deletes a roster entry and returns it together with the
// observer to fire. Removal of an unknown member is a no-op.
func (ch *channel) removeMember(userID string) (wavesock.Member, func(wavesock.Member), bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i, m := range ch.members {
		if m.UserID == userID {
			ch.members = append(ch.members[:i:i], ch.members[i+1:]...)
			return m, ch.onMemberRemoved, true
		}
	}
	return wavesock.Member{}, nil, false
}
