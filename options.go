package wavesock

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options is the immutable connection configuration. Build it once, adjust
// fields, and hand it to client.New; the client never mutates it.
type Options struct {
	// Host of the WebSocket endpoint. Defaults to DefaultHost.
	Host string

	// Port of the WebSocket endpoint. Zero selects 443 when Encrypted and
	// 80 otherwise.
	Port int

	// Encrypted selects wss:// over ws://. Defaults to true.
	Encrypted bool

	// Auth is the strategy used to authorize private and presence
	// subscriptions. Defaults to AuthNone.
	Auth AuthMethod

	// AutoReconnect enables automatic reconnection after an unexpected
	// socket close. Defaults to true.
	AutoReconnect bool

	// AttemptToReturnJSONObject re-decodes the JSON-string payloads the
	// server transmits before handing them to event handlers. Defaults to
	// true.
	AttemptToReturnJSONObject bool

	// MaxReconnectAttempts caps consecutive reconnect attempts. Nil means
	// retry forever.
	MaxReconnectAttempts *int

	// MaxReconnectGap caps the quadratic backoff wait between attempts.
	// Nil leaves the n² seconds wait uncapped.
	MaxReconnectGap *time.Duration

	// UserData supplies the local user's identity for presence channels
	// when signing with AuthInlineSecret. When nil the user id defaults to
	// the current socket id.
	UserData UserDataProvider

	// Reachability observes network state for the reconnect policy. When
	// nil the client uses the polling monitor from the netmon package.
	Reachability ReachabilityMonitor

	// ClientEventRateLimit bounds outbound client events. When nil,
	// DefaultClientEventRateLimit() applies.
	ClientEventRateLimit *RateLimitConfig

	// Logger receives the library's structured logs. When nil the
	// process-global zerolog logger is used.
	Logger *zerolog.Logger
}

// DefaultHost is the hosted service endpoint used when Options.Host is
// empty.
const DefaultHost = "ws.pusherapp.com"

// DefaultOptions returns Options with encrypted transport, automatic
// reconnection and payload re-decoding enabled, and no auth strategy.
func DefaultOptions() *Options {
	return &Options{
		Encrypted:                 true,
		Auth:                      AuthNone{},
		AutoReconnect:             true,
		AttemptToReturnJSONObject: true,
	}
}

// URL builds the handshake URL for the given application key.
func (o *Options) URL(appKey string) string {
	scheme := "ws"
	port := o.Port
	if o.Encrypted {
		scheme = "wss"
		if port == 0 {
			port = 443
		}
	} else if port == 0 {
		port = 80
	}
	host := o.Host
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("%s://%s:%d/app/%s?protocol=%s&client=%s&version=%s",
		scheme, host, port, appKey, ProtocolVersion, LibraryName, LibraryVersion)
}

// Log resolves the logger to use, falling back to the global one.
func (o *Options) Log() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return log.Logger
}

// AuthMethod selects how the client produces the auth token and channel
// data for private and presence subscriptions. Exactly one of the variants
// below is carried in Options.Auth.
type AuthMethod interface {
	isAuthMethod()
}

// AuthNone performs no authorization. Private and presence subscriptions
// fail with ErrAuthMissing.
type AuthNone struct{}

// AuthEndpoint POSTs socket_id and channel_name as a form body to URL and
// expects a JSON response {"auth": "...", "channel_data": "..."}.
type AuthEndpoint struct {
	URL string

	// Headers are added to every auth request, e.g. a session cookie or
	// bearer token.
	Headers http.Header
}

// AuthRequestBuilder delegates auth request construction to user code. The
// response contract is the same as for AuthEndpoint.
type AuthRequestBuilder struct {
	Build func(socketID, channelName string) (*http.Request, error)
}

// AuthInlineSecret signs subscriptions in-process with the application
// secret. Development only: a secret embedded in a shipped client is
// compromised.
type AuthInlineSecret struct {
	Secret string
}

func (AuthNone) isAuthMethod()           {}
func (AuthEndpoint) isAuthMethod()       {}
func (AuthRequestBuilder) isAuthMethod() {}
func (AuthInlineSecret) isAuthMethod()   {}

// RateLimitConfig bounds outbound client events with a token bucket.
type RateLimitConfig struct {
	// EventsPerSecond is the sustained rate of client events.
	EventsPerSecond rate.Limit
	// Burst is the token bucket capacity.
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultClientEventRateLimit allows 10 client events per second with burst
// 10, matching the rate hosted services enforce per connection.
func DefaultClientEventRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		EventsPerSecond: 10,
		Burst:           10,
		Enabled:         true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}
