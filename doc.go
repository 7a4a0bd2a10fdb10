// Package wavesock provides a Go client for hosted publish/subscribe
// messaging services speaking the Channels WebSocket protocol (version 7).
//
// The client maintains a long-lived WebSocket connection, subscribes the
// local process to named channels, and dispatches inbound events to
// registered handlers. Private and presence channels are authenticated
// through one of four pluggable strategies, and the connection recovers
// from unexpected closures with quadratic backoff driven by a network
// reachability monitor.
//
// # Architecture
//
// The root package holds the public contracts: the Client and Channel
// interfaces, connection Options, event and member records, and the shared
// error values. The implementation lives under internal/ and is constructed
// through the client package:
//
//	import (
//	    wavesock "github.com/wavesock/wavesock-go"
//	    "github.com/wavesock/wavesock-go/client"
//	)
//
//	opts := wavesock.DefaultOptions()
//	opts.Auth = wavesock.AuthEndpoint{URL: "https://example.com/auth"}
//	c := client.New("APP_KEY", opts)
//
//	ch := c.Subscribe("orders")
//	ch.Bind("order-created", func(ev wavesock.Event) {
//	    // handle the event payload
//	})
//
//	c.Connect(ctx)
//
// # Channels
//
// Channel kind is derived from the name prefix: "private-" requires
// authentication, "presence-" requires authentication and carries a live
// membership roster, anything else is public. One channel object exists per
// name; repeated Subscribe calls return the same object and keep its
// bindings. Channels survive reconnects and are re-subscribed automatically
// when the connection is re-established.
//
// # Client events
//
// Events whose name starts with "client-" are published by the client
// directly on a subscribed private or presence channel:
//
//	priv := c.Subscribe("private-room-1")
//	priv.Trigger("client-typing", map[string]bool{"typing": true})
//
// Client events triggered before the subscription succeeds are buffered and
// flushed once it does. Outbound client events pass through a token bucket
// rate limiter (default 10 events/second, burst 10).
//
// # Reconnection
//
// When the socket closes unexpectedly and AutoReconnect is enabled, the
// client waits n² seconds before the nth consecutive attempt (optionally
// capped by MaxReconnectGap) and resets the counter on every successful
// handshake. While the network is unreachable the client parks in
// ReconnectingWhenNetworkBecomesReachable and wakes as soon as the
// reachability monitor reports the network back.
//
// # Authentication
//
// Restricted subscriptions are authorized with a token derived from the
// socket id issued at handshake. Strategies:
//
//   - AuthEndpoint: POSTs socket_id and channel_name to an HTTP endpoint.
//   - AuthRequestBuilder: delegates request construction to user code.
//   - AuthInlineSecret: computes the HMAC-SHA256 token in-process. Intended
//     for development; shipping the app secret inside a client is unsafe.
//   - AuthNone: restricted subscriptions fail with ErrAuthMissing.
//
// # Important
//
//   - Event handlers run on the connection's dispatch goroutine; events for
//     a channel are delivered in the order received. Do not block inside a
//     handler.
//   - The server does not replay messages: events published while the client
//     is disconnected are lost.
//   - No public method blocks beyond queueing work; Connect returns after
//     the dial and the handshake completes asynchronously.
package wavesock
