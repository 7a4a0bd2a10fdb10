// Package protocol encodes and decodes the JSON message envelopes of the
// Channels wire protocol.
//
// Every frame is a JSON object with an "event" field and, when applicable,
// "channel" and "data" fields. Inbound frames carry "data" as a
// JSON-encoded string (a known server quirk); outbound control payloads are
// plain objects.
package protocol

import (
	"encoding/json"
	"fmt"

	wavesock "github.com/wavesock/wavesock-go"
)

const maxFrameSize = 10 * 1024 * 1024 // guards against pathological frames

// Message is the wire envelope shared by inbound and outbound frames.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Parse decodes an inbound frame. Frames that are not valid JSON or lack an
// event name are rejected with wavesock.ErrInvalidMessageFormat; callers
// drop and log them.
func Parse(raw []byte) (*Message, error) {
	if len(raw) > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds maximum %d", wavesock.ErrInvalidMessageFormat, len(raw), maxFrameSize)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", wavesock.ErrInvalidMessageFormat, err)
	}
	if m.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", wavesock.ErrInvalidMessageFormat)
	}
	return &m, nil
}

// DataString returns the payload as the string the server transmitted.
// When Data holds a JSON string it is unquoted; any other payload is
// returned verbatim.
func (m *Message) DataString() string {
	if len(m.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// DecodeData re-decodes the string payload into a JSON value. It returns
// the raw string unchanged when decoding fails, so callers can hand user
// code whatever arrived.
func (m *Message) DecodeData() any {
	s := m.DataString()
	if s == "" {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

type unsubscribeData struct {
	Channel string `json:"channel"`
}

// Subscribe builds a pusher:subscribe frame. auth and channelData are empty
// for public channels.
func Subscribe(channel, auth, channelData string) ([]byte, error) {
	data, err := json.Marshal(subscribeData{Channel: channel, Auth: auth, ChannelData: channelData})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: wavesock.EventSubscribe, Data: data})
}

// Unsubscribe builds a pusher:unsubscribe frame.
func Unsubscribe(channel string) ([]byte, error) {
	data, err := json.Marshal(unsubscribeData{Channel: channel})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: wavesock.EventUnsubscribe, Data: data})
}

// ClientEvent builds an outbound client event frame.
func ClientEvent(channel, event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Channel: channel, Data: payload})
}

// Ping and Pong build the protocol-level keepalive frames.
func Ping() []byte {
	raw, _ := json.Marshal(Message{Event: wavesock.EventPing})
	return raw
}

func Pong() []byte {
	raw, _ := json.Marshal(Message{Event: wavesock.EventPong})
	return raw
}

// ConnectionData is the payload of pusher:connection_established.
type ConnectionData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// ParseConnectionData extracts the socket id issued at handshake.
func ParseConnectionData(data string) (*ConnectionData, error) {
	var cd ConnectionData
	if err := json.Unmarshal([]byte(data), &cd); err != nil {
		return nil, fmt.Errorf("%w: %v", wavesock.ErrInvalidMessageFormat, err)
	}
	if cd.SocketID == "" {
		return nil, fmt.Errorf("%w: missing socket_id", wavesock.ErrInvalidMessageFormat)
	}
	return &cd, nil
}

type presenceData struct {
	Presence struct {
		Count int            `json:"count"`
		IDs   []string       `json:"ids"`
		Hash  map[string]any `json:"hash"`
	} `json:"presence"`
}

// ParsePresence extracts the initial roster carried by a presence channel's
// subscription_succeeded payload. Members are returned in the server's ids
// order when provided, otherwise in hash iteration order.
func ParsePresence(data string) ([]wavesock.Member, error) {
	var pd presenceData
	if err := json.Unmarshal([]byte(data), &pd); err != nil {
		return nil, fmt.Errorf("%w: %v", wavesock.ErrInvalidMessageFormat, err)
	}
	members := make([]wavesock.Member, 0, len(pd.Presence.Hash))
	seen := make(map[string]bool, len(pd.Presence.Hash))
	for _, id := range pd.Presence.IDs {
		if info, ok := pd.Presence.Hash[id]; ok && !seen[id] {
			members = append(members, wavesock.Member{UserID: id, UserInfo: info})
			seen[id] = true
		}
	}
	for id, info := range pd.Presence.Hash {
		if !seen[id] {
			members = append(members, wavesock.Member{UserID: id, UserInfo: info})
		}
	}
	return members, nil
}

type memberData struct {
	UserID   string `json:"user_id"`
	UserInfo any    `json:"user_info"`
}

// ParseMember decodes a member_added / member_removed payload.
func ParseMember(data string) (wavesock.Member, error) {
	var md memberData
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return wavesock.Member{}, fmt.Errorf("%w: %v", wavesock.ErrInvalidMessageFormat, err)
	}
	if md.UserID == "" {
		return wavesock.Member{}, fmt.Errorf("%w: missing user_id", wavesock.ErrInvalidMessageFormat)
	}
	return wavesock.Member{UserID: md.UserID, UserInfo: md.UserInfo}, nil
}

// ParseUserID extracts the user_id half of an auth response's channel_data,
// used to identify the local member on presence channels.
func ParseUserID(channelData string) (string, bool) {
	var md memberData
	if err := json.Unmarshal([]byte(channelData), &md); err != nil {
		return "", false
	}
	return md.UserID, md.UserID != ""
}

// ErrorData is the payload of pusher:error.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ParseError decodes a pusher:error payload. A malformed payload yields a
// zero value rather than an error; the event is still delivered.
func ParseError(data string) ErrorData {
	var ed ErrorData
	_ = json.Unmarshal([]byte(data), &ed)
	return ed
}
