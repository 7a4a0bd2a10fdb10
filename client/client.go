// Package client constructs wavesock clients.
package client

import (
	wavesock "github.com/wavesock/wavesock-go"
	"github.com/wavesock/wavesock-go/internal/conn"
)

type Options = wavesock.Options
type Event = wavesock.Event
type Member = wavesock.Member

// New creates a client for the given application key. A nil opts uses
// wavesock.DefaultOptions().
//
// Example:
//
//	opts := wavesock.DefaultOptions()
//	opts.Auth = wavesock.AuthEndpoint{URL: "https://example.com/auth"}
//	c := client.New("APP_KEY", opts)
//	c.Subscribe("orders").Bind("order-created", func(ev wavesock.Event) {
//	    log.Printf("order: %v", ev.Data)
//	})
//	if err := c.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(appKey string, opts *wavesock.Options) wavesock.Client {
	return conn.New(appKey, opts)
}

// DefaultOptions returns the default connection configuration.
func DefaultOptions() *wavesock.Options {
	return wavesock.DefaultOptions()
}
