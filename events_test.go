package wavesock

import (
	"testing"
)

// TestKindOfChannel tests kind derivation from the name prefix
func TestKindOfChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want ChannelKind
	}{
		{name: "chat", want: ChannelPublic},
		{name: "private-orders", want: ChannelPrivate},
		{name: "presence-room", want: ChannelPresence},
		{name: "privateer", want: ChannelPublic},
		{name: "presence-", want: ChannelPresence},
		{name: "", want: ChannelPublic},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := KindOfChannel(tt.name); got != tt.want {
				t.Errorf("KindOfChannel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

// TestChannelKindRequiresAuth tests the auth requirement per kind
func TestChannelKindRequiresAuth(t *testing.T) {
	t.Parallel()

	if ChannelPublic.RequiresAuth() {
		t.Error("public channels must not require auth")
	}
	if !ChannelPrivate.RequiresAuth() {
		t.Error("private channels must require auth")
	}
	if !ChannelPresence.RequiresAuth() {
		t.Error("presence channels must require auth")
	}
}

// TestConnectionStateString tests state names
func TestConnectionStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state ConnectionState
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{Disconnecting, "disconnecting"},
		{Reconnecting, "reconnecting"},
		{ReconnectingWhenNetworkBecomesReachable, "reconnecting_when_network_becomes_reachable"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// TestOptionsURL tests handshake URL construction
func TestOptionsURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "defaults",
			opts: Options{Encrypted: true},
			want: "wss://ws.pusherapp.com:443/app/KEY?protocol=7&client=" + LibraryName + "&version=" + LibraryVersion,
		},
		{
			name: "plaintext default port",
			opts: Options{},
			want: "ws://ws.pusherapp.com:80/app/KEY?protocol=7&client=" + LibraryName + "&version=" + LibraryVersion,
		},
		{
			name: "custom host and port",
			opts: Options{Host: "localhost", Port: 8080},
			want: "ws://localhost:8080/app/KEY?protocol=7&client=" + LibraryName + "&version=" + LibraryVersion,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.opts.URL("KEY"); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestDefaultOptions tests the default configuration
func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	if !opts.Encrypted {
		t.Error("default options must use encrypted transport")
	}
	if !opts.AutoReconnect {
		t.Error("default options must reconnect automatically")
	}
	if !opts.AttemptToReturnJSONObject {
		t.Error("default options must re-decode payloads")
	}
	if _, ok := opts.Auth.(AuthNone); !ok {
		t.Errorf("default auth method = %T, want AuthNone", opts.Auth)
	}
	if opts.MaxReconnectAttempts != nil {
		t.Error("default options must retry forever")
	}
}

// TestDefaultClientEventRateLimit tests the default limiter configuration
func TestDefaultClientEventRateLimit(t *testing.T) {
	t.Parallel()

	rl := DefaultClientEventRateLimit()
	if !rl.Enabled {
		t.Error("default rate limit must be enabled")
	}
	if rl.EventsPerSecond != 10 || rl.Burst != 10 {
		t.Errorf("default rate limit = %v/%d, want 10/10", rl.EventsPerSecond, rl.Burst)
	}

	if NoRateLimit().Enabled {
		t.Error("NoRateLimit() must be disabled")
	}
}

// TestAuthErrorFormatting tests AuthError messages and unwrapping
func TestAuthErrorFormatting(t *testing.T) {
	t.Parallel()

	withStatus := &AuthError{ChannelName: "private-x", Status: 403, Body: "no"}
	if withStatus.Error() == "" {
		t.Error("expected a message")
	}

	wrapped := &AuthError{ChannelName: "private-x", Err: ErrAuthMissing}
	if wrapped.Unwrap() != ErrAuthMissing {
		t.Error("Unwrap must expose the cause")
	}
}
