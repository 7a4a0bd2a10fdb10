package wavesock

import "strings"

// Protocol event names. Events in the "pusher:" and "pusher_internal:"
// namespaces are part of the wire protocol; everything else is
// application-defined.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"

	// EventSubscriptionSucceeded is the name under which a successful
	// subscription is delivered to user bindings, both globally and on the
	// channel itself. On the wire the server sends
	// EventInternalSubscriptionSucceeded.
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"

	// EventSubscriptionError is synthesized locally when authorizing or
	// subscribing a channel fails.
	EventSubscriptionError = "pusher:subscription_error"

	EventInternalSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventInternalMemberAdded           = "pusher_internal:member_added"
	EventInternalMemberRemoved         = "pusher_internal:member_removed"
)

// Channel name and event name prefixes.
const (
	PrivateChannelPrefix  = "private-"
	PresenceChannelPrefix = "presence-"
	ClientEventPrefix     = "client-"
)

// ProtocolVersion is the wire protocol version requested at handshake.
const ProtocolVersion = "7"

// Library identification sent in the handshake URL.
const (
	LibraryName    = "wavesock-go"
	LibraryVersion = "0.3.1"
)

// ConnectionState describes the connection lifecycle.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
	Reconnecting
	ReconnectingWhenNetworkBecomesReachable
)

var connectionStateNames = map[ConnectionState]string{
	Disconnected:  "disconnected",
	Connecting:    "connecting",
	Connected:     "connected",
	Disconnecting: "disconnecting",
	Reconnecting:  "reconnecting",
	ReconnectingWhenNetworkBecomesReachable: "reconnecting_when_network_becomes_reachable",
}

func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ChannelKind discriminates channel behavior. It is derived once from the
// channel name prefix.
type ChannelKind int32

const (
	ChannelPublic ChannelKind = iota
	ChannelPrivate
	ChannelPresence
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelPrivate:
		return "private"
	case ChannelPresence:
		return "presence"
	default:
		return "public"
	}
}

// KindOfChannel derives the channel kind from its name prefix.
func KindOfChannel(name string) ChannelKind {
	switch {
	case strings.HasPrefix(name, PresenceChannelPrefix):
		return ChannelPresence
	case strings.HasPrefix(name, PrivateChannelPrefix):
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

// RequiresAuth reports whether subscribing to this kind of channel needs an
// authorization token.
func (k ChannelKind) RequiresAuth() bool {
	return k == ChannelPrivate || k == ChannelPresence
}

// Event is a decoded inbound message envelope handed to event handlers.
type Event struct {
	// Name is the event name as sent by the server, except for
	// subscription results which are delivered under
	// EventSubscriptionSucceeded / EventSubscriptionError.
	Name string

	// Channel is the channel the event was published on, or empty for
	// connection-level events.
	Channel string

	// Data carries the event payload. The server transmits payloads as
	// JSON-encoded strings; when Options.AttemptToReturnJSONObject is set
	// the client re-decodes the string and Data holds the resulting value,
	// otherwise Data holds the raw string.
	Data any
}

// DataString returns the payload as a string when it is one.
func (e Event) DataString() (string, bool) {
	s, ok := e.Data.(string)
	return s, ok
}

// EventHandler is a callback bound to an event name, globally or on a
// channel. Handlers run on the connection's dispatch goroutine.
type EventHandler func(Event)

// Member is an entry in a presence channel roster, unique by UserID.
type Member struct {
	UserID   string
	UserInfo any
}

// UserData identifies the local user on presence channels. It is produced
// by the Options.UserData provider and serialized as the channel_data half
// of the auth payload.
type UserData struct {
	UserID   string `json:"user_id"`
	UserInfo any    `json:"user_info,omitempty"`
}

// UserDataProvider supplies the local user's identity for presence
// subscriptions. When nil, the user id defaults to the current socket id.
type UserDataProvider func() UserData
