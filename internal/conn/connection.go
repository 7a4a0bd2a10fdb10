// Package conn drives the WebSocket connection: the protocol state
// machine, the channel registry, event dispatch and the reconnect policy.
package conn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	wavesock "github.com/wavesock/wavesock-go"
	"github.com/wavesock/wavesock-go/internal/auth"
	"github.com/wavesock/wavesock-go/internal/protocol"
	"github.com/wavesock/wavesock-go/netmon"
)

const (
	handshakeTimeout = 10 * time.Second
	dialTimeout      = 15 * time.Second

	// Buffered state-change notifications. The observer runs on its own
	// goroutine; transitions beyond the buffer are dropped with a log line
	// rather than blocking the state machine.
	notifyBufferSize = 64
)

type stateTransition struct {
	old, new wavesock.ConnectionState
}

// Connection implements wavesock.Client. It owns the socket, the channel
// registry and the global bindings; all state mutation happens under its
// mutex, and inbound events are dispatched from the single read goroutine
// in arrival order.
type Connection struct {
	appKey     string
	opts       *wavesock.Options
	log        zerolog.Logger
	authorizer auth.Authorizer
	monitor    wavesock.ReachabilityMonitor
	limiter    *rate.Limiter

	mu                sync.Mutex
	state             wavesock.ConnectionState
	socketID          string
	sock              *socket
	channels          map[string]*channel
	reconnectTimer    *time.Timer
	reconnectAttempts int
	monitorStarted    bool

	global *bindingTable

	notifyCh    chan stateTransition
	stateChange func(old, new wavesock.ConnectionState)
	subSuccess  func(channelName string)
	subError    func(channelName string, status int, body string, err error)
}

var _ wavesock.Client = (*Connection)(nil)

// New creates a Connection for the given application key. A nil opts uses
// DefaultOptions.
func New(appKey string, opts *wavesock.Options) *Connection {
	if opts == nil {
		opts = wavesock.DefaultOptions()
	}

	monitor := opts.Reachability
	if monitor == nil {
		monitor = netmon.New()
	}

	rl := opts.ClientEventRateLimit
	if rl == nil {
		rl = wavesock.DefaultClientEventRateLimit()
	}
	var limiter *rate.Limiter
	if rl.Enabled {
		limiter = rate.NewLimiter(rl.EventsPerSecond, rl.Burst)
	}

	c := &Connection{
		appKey:     appKey,
		opts:       opts,
		log:        opts.Log().With().Str("component", "connection").Logger(),
		authorizer: auth.New(appKey, opts),
		monitor:    monitor,
		limiter:    limiter,
		state:      wavesock.Disconnected,
		channels:   make(map[string]*channel),
		global:     newBindingTable(),
		notifyCh:   make(chan stateTransition, notifyBufferSize),
	}
	go c.notifyLoop()
	return c
}

// Connect dials the service. The protocol handshake completes
// asynchronously; the state moves to Connected when the server issues a
// socket id.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case wavesock.Connecting, wavesock.Connected, wavesock.Disconnecting:
		c.mu.Unlock()
		return nil
	}
	if !c.monitorStarted {
		c.monitorStarted = true
		c.monitor.Start(c.networkReachable, nil)
	}
	c.stopReconnectTimerLocked()
	c.setStateLocked(wavesock.Connecting)
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Connection) dial(ctx context.Context) error {
	url := c.opts.URL(c.appKey)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	wsConn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("dial failed")
		c.mu.Lock()
		if c.state == wavesock.Connecting {
			if c.opts.AutoReconnect {
				c.beginReconnectLocked()
			} else {
				c.setStateLocked(wavesock.Disconnected)
			}
		}
		c.mu.Unlock()
		return err
	}

	s := newSocket(wsConn)

	c.mu.Lock()
	if c.state != wavesock.Connecting {
		// Disconnect raced the dial.
		c.mu.Unlock()
		s.close(websocket.CloseNormalClosure)
		return nil
	}
	c.sock = s
	c.mu.Unlock()

	go s.writePump()
	go c.readLoop(s)
	return nil
}

// Disconnect closes the connection deliberately. The channel registry is
// kept so a later Connect resubscribes everything.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.stopReconnectTimerLocked()

	switch c.state {
	case wavesock.Disconnected, wavesock.Disconnecting:
		c.mu.Unlock()
		return
	}

	s := c.sock
	if s == nil {
		// Parked in a reconnecting state with no live socket.
		c.setStateLocked(wavesock.Disconnected)
		c.mu.Unlock()
		return
	}
	c.setStateLocked(wavesock.Disconnecting)
	c.mu.Unlock()

	// The read loop observes the closure and finishes the transition to
	// Disconnected.
	s.close(websocket.CloseNormalClosure)
}

// Subscribe returns the channel with the given name, creating it on first
// use, and issues the subscribe request when connected.
func (c *Connection) Subscribe(channelName string) wavesock.Channel {
	ch := c.subscribe(channelName, nil, nil)
	return ch
}

// SubscribePresence subscribes a presence channel with optional membership
// observers.
func (c *Connection) SubscribePresence(channelName string, onMemberAdded, onMemberRemoved func(wavesock.Member)) (wavesock.PresenceChannel, error) {
	if wavesock.KindOfChannel(channelName) != wavesock.ChannelPresence {
		return nil, wavesock.ErrNotPresenceChannel
	}
	return c.subscribe(channelName, onMemberAdded, onMemberRemoved), nil
}

func (c *Connection) subscribe(channelName string, onAdded, onRemoved func(wavesock.Member)) *channel {
	c.mu.Lock()
	ch, ok := c.channels[channelName]
	if !ok {
		ch = newChannel(c, channelName)
		c.channels[channelName] = ch
	}
	connected := c.state == wavesock.Connected
	c.mu.Unlock()

	if onAdded != nil || onRemoved != nil {
		ch.setObservers(onAdded, onRemoved)
	}
	if connected && !ch.IsSubscribed() {
		c.subscribeChannel(ch)
	}
	return ch
}

// Unsubscribe removes the channel from the registry, drops its bindings
// and tells the server when connected.
func (c *Connection) Unsubscribe(channelName string) {
	c.mu.Lock()
	ch := c.channels[channelName]
	delete(c.channels, channelName)
	connected := c.state == wavesock.Connected
	c.mu.Unlock()

	if ch == nil {
		return
	}
	ch.bindings.unbindAll()
	ch.markUnsubscribed()

	if connected {
		frame, err := protocol.Unsubscribe(channelName)
		if err == nil {
			if err := c.write(frame); err != nil {
				c.log.Debug().Err(err).Str("channel", channelName).Msg("unsubscribe not sent")
			}
		}
	}
}

// Bind registers a global handler fired for every inbound event.
func (c *Connection) Bind(eventName string, handler wavesock.EventHandler) string {
	return c.global.bind(eventName, handler)
}

// Unbind removes a global binding.
func (c *Connection) Unbind(bindingID string) {
	c.global.unbind(bindingID)
}

// UnbindAll removes all global bindings.
func (c *Connection) UnbindAll() {
	c.global.unbindAll()
}

// Trigger publishes a client event on the named channel.
func (c *Connection) Trigger(channelName, eventName string, data any) error {
	c.mu.Lock()
	ch := c.channels[channelName]
	c.mu.Unlock()
	if ch == nil {
		c.log.Error().Str("channel", channelName).Str("event", eventName).Msg("client event on unknown channel dropped")
		return wavesock.ErrInvalidClientEvent
	}
	return c.trigger(ch, eventName, data)
}

// State returns the current connection state.
func (c *Connection) State() wavesock.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID returns the socket id issued at handshake.
func (c *Connection) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// OnConnectionStateChange registers the state transition observer.
func (c *Connection) OnConnectionStateChange(fn func(old, new wavesock.ConnectionState)) {
	c.mu.Lock()
	c.stateChange = fn
	c.mu.Unlock()
}

// OnSubscriptionSuccess registers the subscription success handler.
func (c *Connection) OnSubscriptionSuccess(fn func(channelName string)) {
	c.mu.Lock()
	c.subSuccess = fn
	c.mu.Unlock()
}

// OnSubscriptionError registers the subscription failure handler.
func (c *Connection) OnSubscriptionError(fn func(channelName string, status int, body string, err error)) {
	c.mu.Lock()
	c.subError = fn
	c.mu.Unlock()
}

// setStateLocked transitions the state and queues the observer
// notification. Requires c.mu.
func (c *Connection) setStateLocked(newState wavesock.ConnectionState) {
	if c.state == newState {
		return
	}
	old := c.state
	c.state = newState
	c.log.Debug().Stringer("old", old).Stringer("new", newState).Msg("connection state changed")
	select {
	case c.notifyCh <- stateTransition{old: old, new: newState}:
	default:
		c.log.Warn().Msg("state change notification dropped: observer too slow")
	}
}

// notifyLoop delivers state transitions to the observer off the state
// machine's lock, preserving order.
func (c *Connection) notifyLoop() {
	for tr := range c.notifyCh {
		c.mu.Lock()
		fn := c.stateChange
		c.mu.Unlock()
		if fn != nil {
			fn(tr.old, tr.new)
		}
	}
}

// --- reconnect policy ---

// beginReconnectLocked decides how to recover after the connection is
// lost. Requires c.mu.
func (c *Connection) beginReconnectLocked() {
	if !c.opts.AutoReconnect {
		c.setStateLocked(wavesock.Disconnected)
		return
	}
	if max := c.opts.MaxReconnectAttempts; max != nil && c.reconnectAttempts >= *max {
		c.log.Warn().Int("attempts", c.reconnectAttempts).Err(wavesock.ErrReconnectExhausted).Msg("giving up")
		c.setStateLocked(wavesock.Disconnected)
		return
	}
	if !c.monitor.IsReachable() {
		c.setStateLocked(wavesock.ReconnectingWhenNetworkBecomesReachable)
		return
	}
	c.setStateLocked(wavesock.Reconnecting)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single-shot backoff timer, replacing
// any previous one. The wait before the nth consecutive attempt is n²
// seconds, optionally capped. Requires c.mu.
func (c *Connection) scheduleReconnectLocked() {
	c.stopReconnectTimerLocked()
	wait := backoffWait(c.reconnectAttempts, c.opts.MaxReconnectGap)
	c.log.Info().Dur("wait", wait).Int("attempt", c.reconnectAttempts).Msg("reconnect scheduled")
	c.reconnectTimer = time.AfterFunc(wait, c.reconnectTimerFired)
}

// backoffWait is the delay before the nth consecutive reconnect attempt:
// n² seconds, optionally capped.
func backoffWait(attempt int, gap *time.Duration) time.Duration {
	wait := time.Duration(attempt) * time.Duration(attempt) * time.Second
	if gap != nil && wait > *gap {
		wait = *gap
	}
	return wait
}

func (c *Connection) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Connection) reconnectTimerFired() {
	c.mu.Lock()
	if c.state != wavesock.Reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.reconnectAttempts++
	c.setStateLocked(wavesock.Connecting)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	_ = c.dial(ctx)
}

// networkReachable wakes a reconnect parked on an unreachable network.
func (c *Connection) networkReachable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != wavesock.ReconnectingWhenNetworkBecomesReachable {
		return
	}
	c.setStateLocked(wavesock.Reconnecting)
	c.scheduleReconnectLocked()
}

// --- socket lifecycle ---

// readLoop reads frames until the socket dies and dispatches them in
// order. It delivers every inbound event; a synthesized subscription_error
// is dispatched from the goroutine that ran the failed authorization.
func (c *Connection) readLoop(s *socket) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			c.socketClosed(s, err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(raw)
	}
}

// socketClosed finalizes a dead socket: channels are marked unsubscribed
// and the reconnect policy decides what happens next.
func (c *Connection) socketClosed(s *socket, err error) {
	c.mu.Lock()
	if c.sock != s {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.socketID = ""
	for _, ch := range c.channels {
		ch.markUnsubscribed()
	}

	deliberate := c.state == wavesock.Disconnecting
	normal := websocket.IsCloseError(err, websocket.CloseNormalClosure)
	switch {
	case deliberate || normal:
		c.setStateLocked(wavesock.Disconnected)
	default:
		c.log.Warn().Err(err).Msg("socket closed unexpectedly")
		c.beginReconnectLocked()
	}
	c.mu.Unlock()

	s.close(websocket.CloseNormalClosure)
}

// write queues a frame on the current socket.
func (c *Connection) write(frame []byte) error {
	c.mu.Lock()
	s := c.sock
	c.mu.Unlock()
	if s == nil {
		return wavesock.ErrConnectionClosed
	}
	select {
	case s.sendCh <- frame:
		return nil
	case <-s.done:
		return wavesock.ErrConnectionClosed
	}
}

// --- inbound dispatch ---

func (c *Connection) handleFrame(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}

	switch msg.Event {
	case wavesock.EventConnectionEstablished:
		c.handleConnectionEstablished(msg)
	case wavesock.EventInternalSubscriptionSucceeded:
		c.handleSubscriptionSucceeded(msg)
	case wavesock.EventInternalMemberAdded:
		c.handleMemberAdded(msg)
	case wavesock.EventInternalMemberRemoved:
		c.handleMemberRemoved(msg)
	case wavesock.EventPing:
		if err := c.write(protocol.Pong()); err != nil {
			c.log.Debug().Err(err).Msg("pong not sent")
		}
	default:
		if msg.Event == wavesock.EventError {
			ed := protocol.ParseError(msg.DataString())
			c.log.Warn().Int("code", ed.Code).Str("message", ed.Message).Msg("server error event")
		}
		c.dispatch(msg.Event, msg.Channel, c.eventData(msg))
	}
}

// eventData resolves the payload handed to handlers, honoring
// AttemptToReturnJSONObject.
func (c *Connection) eventData(msg *protocol.Message) any {
	if c.opts.AttemptToReturnJSONObject {
		return msg.DecodeData()
	}
	return msg.DataString()
}

// dispatch delivers an event to global bindings first, then to the named
// channel's bindings.
func (c *Connection) dispatch(eventName, channelName string, data any) {
	ev := wavesock.Event{Name: eventName, Channel: channelName, Data: data}

	for _, fn := range c.global.handlersFor(eventName) {
		fn(ev)
	}
	if channelName == "" {
		return
	}
	c.mu.Lock()
	ch := c.channels[channelName]
	c.mu.Unlock()
	if ch == nil {
		return
	}
	for _, fn := range ch.bindings.handlersFor(eventName) {
		fn(ev)
	}
}

func (c *Connection) handleConnectionEstablished(msg *protocol.Message) {
	cd, err := protocol.ParseConnectionData(msg.DataString())
	if err != nil {
		// The attempt counter is deliberately left alone here; only a
		// fully parsed handshake counts as success.
		c.log.Warn().Err(err).Msg("connection_established carried no usable socket_id")
		return
	}

	c.mu.Lock()
	c.socketID = cd.SocketID
	c.reconnectAttempts = 0
	c.stopReconnectTimerLocked()
	c.setStateLocked(wavesock.Connected)
	resubscribe := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		if !ch.IsSubscribed() {
			resubscribe = append(resubscribe, ch)
		}
	}
	c.mu.Unlock()

	c.log.Info().Str("socket_id", cd.SocketID).Msg("connection established")
	c.dispatch(msg.Event, msg.Channel, c.eventData(msg))

	for _, ch := range resubscribe {
		c.subscribeChannel(ch)
	}
}

func (c *Connection) handleSubscriptionSucceeded(msg *protocol.Message) {
	c.mu.Lock()
	ch := c.channels[msg.Channel]
	subSuccess := c.subSuccess
	c.mu.Unlock()
	if ch == nil {
		c.log.Debug().Str("channel", msg.Channel).Msg("subscription_succeeded for unknown channel dropped")
		return
	}

	if ch.kind == wavesock.ChannelPresence {
		members, err := protocol.ParsePresence(msg.DataString())
		if err != nil {
			c.log.Warn().Err(err).Str("channel", ch.name).Msg("presence payload not parsed")
		} else {
			ch.seedRoster(members)
		}
	}
	ch.markSubscribed()
	c.log.Info().Str("channel", ch.name).Msg("subscribed")

	if subSuccess != nil {
		subSuccess(ch.name)
	}
	c.dispatch(wavesock.EventSubscriptionSucceeded, ch.name, c.eventData(msg))

	for _, ev := range ch.drainUnsent() {
		if err := c.sendClientEvent(ch, ev.name, ev.data); err != nil {
			c.log.Warn().Err(err).Str("channel", ch.name).Str("event", ev.name).Msg("buffered client event dropped")
		}
	}
}

func (c *Connection) handleMemberAdded(msg *protocol.Message) {
	c.mu.Lock()
	ch := c.channels[msg.Channel]
	c.mu.Unlock()
	if ch == nil || ch.kind != wavesock.ChannelPresence {
		return
	}
	member, err := protocol.ParseMember(msg.DataString())
	if err != nil {
		c.log.Warn().Err(err).Str("channel", msg.Channel).Msg("member_added payload not parsed")
		return
	}
	if fire := ch.addMember(member); fire != nil {
		fire(member)
	}
	c.dispatch(msg.Event, msg.Channel, c.eventData(msg))
}

func (c *Connection) handleMemberRemoved(msg *protocol.Message) {
	c.mu.Lock()
	ch := c.channels[msg.Channel]
	c.mu.Unlock()
	if ch == nil || ch.kind != wavesock.ChannelPresence {
		return
	}
	parsed, err := protocol.ParseMember(msg.DataString())
	if err != nil {
		c.log.Warn().Err(err).Str("channel", msg.Channel).Msg("member_removed payload not parsed")
		return
	}
	member, fire, ok := ch.removeMember(parsed.UserID)
	if !ok {
		return
	}
	if fire != nil {
		fire(member)
	}
	c.dispatch(msg.Event, msg.Channel, c.eventData(msg))
}

// --- outbound subscription ---

// subscribeChannel issues the subscribe frame, authorizing first when the
// channel kind requires it. Authorization runs on its own goroutine and
// posts its outcome back here.
func (c *Connection) subscribeChannel(ch *channel) {
	c.mu.Lock()
	if c.state != wavesock.Connected {
		c.mu.Unlock()
		return
	}
	socketID := c.socketID
	c.mu.Unlock()

	if !ch.kind.RequiresAuth() {
		frame, err := protocol.Subscribe(ch.name, "", "")
		if err != nil {
			c.subscriptionFailed(ch, err)
			return
		}
		if err := c.write(frame); err != nil {
			c.log.Debug().Err(err).Str("channel", ch.name).Msg("subscribe not sent")
		}
		return
	}

	go func() {
		res, err := c.authorizer.Authorize(socketID, ch.name)
		if err != nil {
			c.subscriptionFailed(ch, err)
			return
		}

		if ch.kind == wavesock.ChannelPresence && res.ChannelData != "" {
			if userID, ok := protocol.ParseUserID(res.ChannelData); ok {
				ch.setMyID(userID)
			}
		}

		c.mu.Lock()
		stale := c.state != wavesock.Connected || c.socketID != socketID
		c.mu.Unlock()
		if stale {
			c.log.Debug().Str("channel", ch.name).Msg("discarding auth for a dead socket")
			return
		}

		frame, err := protocol.Subscribe(ch.name, res.Auth, res.ChannelData)
		if err != nil {
			c.subscriptionFailed(ch, err)
			return
		}
		if err := c.write(frame); err != nil {
			c.log.Debug().Err(err).Str("channel", ch.name).Msg("subscribe not sent")
		}
	}()
}

// subscriptionFailed surfaces an authorization or encoding failure through
// the error handler and as a synthesized subscription_error event.
func (c *Connection) subscriptionFailed(ch *channel, err error) {
	var status int
	var body string
	var ae *wavesock.AuthError
	if errors.As(err, &ae) {
		status = ae.Status
		body = ae.Body
	}
	c.log.Error().Err(err).Str("channel", ch.name).Msg("subscription failed")

	c.mu.Lock()
	subError := c.subError
	c.mu.Unlock()
	if subError != nil {
		subError(ch.name, status, body, err)
	}
	c.dispatch(wavesock.EventSubscriptionError, ch.name, err.Error())
}

// --- client events ---

func (c *Connection) trigger(ch *channel, eventName string, data any) error {
	if !strings.HasPrefix(eventName, wavesock.ClientEventPrefix) || !ch.kind.RequiresAuth() {
		c.log.Error().Str("channel", ch.name).Str("event", eventName).Msg("invalid client event dropped")
		return wavesock.ErrInvalidClientEvent
	}
	if !ch.IsSubscribed() {
		ch.bufferClientEvent(eventName, data)
		return nil
	}
	return c.sendClientEvent(ch, eventName, data)
}

func (c *Connection) sendClientEvent(ch *channel, eventName string, data any) error {
	if c.limiter != nil && !c.limiter.Allow() {
		c.log.Warn().Str("channel", ch.name).Str("event", eventName).Msg("client event rate limited")
		return wavesock.ErrClientEventRateLimited
	}
	frame, err := protocol.ClientEvent(ch.name, eventName, data)
	if err != nil {
		return err
	}
	return c.write(frame)
}
