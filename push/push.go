// Package push registers mobile device tokens with the HTTP
// push-notification gateway and subscribes them to interests, so the
// hosted service can reach the device while the WebSocket is not
// connected.
//
// Interest changes queue in an ordered outbox until the gateway has issued
// a client id; the outbox drains in order, re-inserts a failed item at the
// head, and pauses once the global failure counter passes the ceiling.
// A rapid subscribe/unsubscribe pair sends both requests; the outbox does
// not deduplicate (wire-compatible with the reference clients).
package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Platform identifies the native push transport of the device.
type Platform string

const (
	PlatformAPNS Platform = "apns"
	PlatformGCM  Platform = "gcm"
)

// MaxFailures is the global failure ceiling; past it the outbox pauses
// until Resume is called.
const MaxFailures = 6

const clientsPath = "/client_api/v1/clients"

type change int

const (
	subscribe change = iota
	unsubscribe
)

func (c change) String() string {
	if c == unsubscribe {
		return "unsubscribe"
	}
	return "subscribe"
}

// outboxItem is one pending interest change.
type outboxItem struct {
	interest string
	change   change
}

// Client talks to the push gateway. Safe for concurrent use.
type Client struct {
	appKey  string
	baseURL string
	http    *resty.Client
	log     zerolog.Logger

	mu       sync.Mutex
	clientID string
	outbox   []outboxItem
	failures int
	draining bool
}

// Option adjusts the Client.
type Option func(*Client)

// WithLogger routes the client's logs to the given logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithHTTPClient swaps the underlying resty client, e.g. to set a proxy or
// timeout policy.
func WithHTTPClient(http *resty.Client) Option {
	return func(c *Client) { c.http = http }
}

// New creates a gateway client for the given application key. baseURL is
// the gateway origin, e.g. "https://nativepush-cluster1.pusher.com".
func New(appKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		appKey:  appKey,
		baseURL: baseURL,
		http:    resty.New(),
		log:     log.Logger.With().Str("component", "push").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type registerRequest struct {
	AppKey       string `json:"app_key"`
	PlatformType string `json:"platform_type"`
	Token        string `json:"token"`
}

type registerResponse struct {
	ID string `json:"id"`
}

type interestRequest struct {
	AppKey string `json:"app_key"`
}

// Register submits the device token and stores the client id the gateway
// issues. Interest changes queued beforehand start draining on success.
func (c *Client) Register(ctx context.Context, platform Platform, token string) error {
	var out registerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(registerRequest{AppKey: c.appKey, PlatformType: string(platform), Token: token}).
		SetResult(&out).
		Post(c.baseURL + clientsPath)
	if err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("registering device: gateway returned status %d", resp.StatusCode())
	}
	if out.ID == "" {
		return fmt.Errorf("registering device: gateway response is missing the client id")
	}

	c.mu.Lock()
	c.clientID = out.ID
	c.mu.Unlock()
	c.log.Info().Str("client_id", out.ID).Msg("device registered")

	c.kick()
	return nil
}

// ClientID returns the id issued by the gateway, or empty before Register
// succeeds.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Subscribe queues a subscription of the device to an interest.
func (c *Client) Subscribe(interest string) {
	c.enqueue(outboxItem{interest: interest, change: subscribe})
}

// Unsubscribe queues removal of the device from an interest.
func (c *Client) Unsubscribe(interest string) {
	c.enqueue(outboxItem{interest: interest, change: unsubscribe})
}

// PendingCount returns the number of queued interest changes.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Paused reports whether the failure ceiling stopped the outbox.
func (c *Client) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures > MaxFailures
}

// Resume clears the failure counter and restarts a paused outbox.
func (c *Client) Resume() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
	c.kick()
}

func (c *Client) enqueue(item outboxItem) {
	c.mu.Lock()
	c.outbox = append(c.outbox, item)
	c.mu.Unlock()
	c.kick()
}

// kick starts the drain goroutine unless one is already running or the
// outbox cannot make progress yet.
func (c *Client) kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining || c.clientID == "" || c.failures > MaxFailures || len(c.outbox) == 0 {
		return
	}
	c.draining = true
	go c.drain()
}

// drain sends queued changes in order. A failed item goes back to the head
// of the queue and bumps the failure counter.
func (c *Client) drain() {
	for {
		c.mu.Lock()
		if c.failures > MaxFailures || len(c.outbox) == 0 || c.clientID == "" {
			c.draining = false
			c.mu.Unlock()
			return
		}
		item := c.outbox[0]
		c.outbox = c.outbox[1:]
		clientID := c.clientID
		c.mu.Unlock()

		if err := c.send(clientID, item); err != nil {
			c.mu.Lock()
			c.outbox = append([]outboxItem{item}, c.outbox...)
			c.failures++
			paused := c.failures > MaxFailures
			c.mu.Unlock()
			c.log.Warn().
				Err(err).
				Str("interest", item.interest).
				Stringer("change", item.change).
				Bool("paused", paused).
				Msg("interest change failed, requeued at head")
		}
	}
}

func (c *Client) send(clientID string, item outboxItem) error {
	url := fmt.Sprintf("%s%s/%s/interests/%s", c.baseURL, clientsPath, clientID, item.interest)
	req := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(interestRequest{AppKey: c.appKey})

	var resp *resty.Response
	var err error
	if item.change == subscribe {
		resp, err = req.Post(url)
	} else {
		resp, err = req.Delete(url)
	}
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode())
	}
	c.log.Debug().Str("interest", item.interest).Stringer("change", item.change).Msg("interest change applied")
	return nil
}
