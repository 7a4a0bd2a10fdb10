package wavesock

import "context"

// Client is the top-level handle to the messaging service. It owns the
// WebSocket connection, the channel registry and the global event bindings.
//
// A Client is safe for concurrent use. Channel and binding mutations are
// serialized internally; event handlers run on the connection's dispatch
// goroutine in the order events arrive.
type Client interface {
	// Connect dials the service and starts the protocol handshake. It
	// returns an error if the initial dial fails; when AutoReconnect is
	// enabled a failed dial is also fed into the reconnect policy. The
	// handshake itself completes asynchronously: the client moves to
	// Connected once the server acknowledges the connection and issues a
	// socket id.
	Connect(ctx context.Context) error

	// Disconnect closes the connection deliberately. Any pending reconnect
	// timer is cancelled, all channels are marked unsubscribed, and the
	// channel registry is left intact so a later Connect resubscribes them.
	Disconnect()

	// Subscribe returns the channel with the given name, creating it on
	// first use. Creation is idempotent: repeated calls return the same
	// object with its bindings preserved. The subscribe request is issued
	// immediately when connected, or deferred until the connection is
	// established.
	//
	// Names starting with "private-" or "presence-" require an auth
	// strategy other than AuthNone; without one the subscription fails and
	// the failure is reported through the subscription error handler.
	Subscribe(channelName string) Channel

	// SubscribePresence subscribes to a presence channel and registers
	// optional membership observers. The name must carry the "presence-"
	// prefix. Either observer may be nil.
	SubscribePresence(channelName string, onMemberAdded, onMemberRemoved func(Member)) (PresenceChannel, error)

	// Unsubscribe sends an unsubscribe request for the named channel and
	// removes it from the registry together with all of its bindings.
	Unsubscribe(channelName string)

	// Bind registers a handler invoked for every inbound event regardless
	// of channel. It returns a binding id for Unbind.
	Bind(eventName string, handler EventHandler) string

	// Unbind removes the global binding with the given id.
	Unbind(bindingID string)

	// UnbindAll removes all global bindings.
	UnbindAll()

	// Trigger publishes a client event on the named channel. The event name
	// must start with "client-" and the channel must be a known private or
	// presence channel; otherwise the event is dropped, logged and an error
	// returned. Events triggered on a not-yet-subscribed private or presence
	// channel are buffered and flushed on subscription success.
	Trigger(channelName, eventName string, data any) error

	// State returns the current connection state.
	State() ConnectionState

	// SocketID returns the socket id issued by the server at handshake, or
	// the empty string while disconnected.
	SocketID() string

	// OnConnectionStateChange registers an observer invoked with the old
	// and new state on every transition.
	OnConnectionStateChange(fn func(old, new ConnectionState))

	// OnSubscriptionSuccess registers a handler invoked with the channel
	// name whenever a subscription succeeds.
	OnSubscriptionSuccess(fn func(channelName string))

	// OnSubscriptionError registers a handler invoked when authorizing or
	// subscribing a channel fails. status and body carry the auth endpoint
	// response when one was received; status is zero otherwise.
	OnSubscriptionError(fn func(channelName string, status int, body string, err error))
}

// Channel is a named event fanout on the service. Bindings registered
// before subscription succeed are retained and fire once events flow.
type Channel interface {
	// Name returns the full channel name including any kind prefix.
	Name() string

	// Kind returns the channel kind derived from the name prefix.
	Kind() ChannelKind

	// IsSubscribed reports whether the server has acknowledged the
	// subscription. It turns false on any disconnect.
	IsSubscribed() bool

	// Bind registers a handler for the named event on this channel and
	// returns a binding id for Unbind.
	Bind(eventName string, handler EventHandler) string

	// Unbind removes the binding with the given id.
	Unbind(bindingID string)

	// UnbindAll removes every binding on this channel.
	UnbindAll()

	// Trigger publishes a client event on this channel, subject to the
	// same rules as Client.Trigger.
	Trigger(eventName string, data any) error
}

// PresenceChannel is a channel that carries a membership roster.
type PresenceChannel interface {
	Channel

	// Members returns a snapshot of the current roster.
	Members() []Member

	// Member looks up a roster entry by user id.
	Member(userID string) (Member, bool)

	// Me returns the roster entry for the local user, when known. The
	// local user id is parsed from the auth response's channel data.
	Me() (Member, bool)

	// MemberCount returns the current roster size.
	MemberCount() int
}

// ReachabilityMonitor observes network state. The connection consults
// IsReachable when deciding how to recover from an unexpected close, and a
// reconnect parked on an unreachable network resumes from the onReachable
// callback.
//
// Implementations must tolerate repeated Start/Stop calls and must invoke
// the callbacks from at most one goroutine.
type ReachabilityMonitor interface {
	// IsReachable synchronously probes whether the network is usable.
	IsReachable() bool

	// Start begins observing and registers the transition callbacks.
	// Either callback may be nil.
	Start(onReachable, onUnreachable func())

	// Stop ends observation. Callbacks are not invoked after Stop returns.
	Stop()
}
