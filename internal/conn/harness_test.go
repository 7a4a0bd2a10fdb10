package conn

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wavesock "github.com/wavesock/wavesock-go"
	"github.com/wavesock/wavesock-go/internal/protocol"
	"github.com/wavesock/wavesock-go/netmon"
)

// fakeService is an in-process stand-in for the hosted service. It accepts
// WebSocket connections, records every frame the client sends, and lets
// tests drive the server side of the protocol.
type fakeService struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	connCh chan *websocket.Conn
	frames chan protocol.Message
}

func newFakeService(t *testing.T) *fakeService {
	f := &fakeService{
		t:      t,
		connCh: make(chan *websocket.Conn, 8),
		frames: make(chan protocol.Message, 64),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.connCh <- conn

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			f.frames <- msg
		}
	}()
}

// options returns client options pointing at the fake service with
// reconnection off and a reachable manual monitor. Tests adjust fields as
// needed.
func (f *fakeService) options() *wavesock.Options {
	addr := strings.TrimPrefix(f.srv.URL, "http://")
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		f.t.Fatalf("splitting fake service address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	nop := zerolog.Nop()
	opts := wavesock.DefaultOptions()
	opts.Host = host
	opts.Port = port
	opts.Encrypted = false
	opts.AutoReconnect = false
	opts.Reachability = netmon.NewManual(true)
	opts.Logger = &nop
	return opts
}

// waitConn returns the next accepted server-side connection.
func (f *fakeService) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.connCh:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (f *fakeService) send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("sending frame: %v", err)
	}
}

// establish accepts the next connection and completes the protocol
// handshake with the given socket id.
func (f *fakeService) establish(t *testing.T, socketID string) *websocket.Conn {
	t.Helper()
	conn := f.waitConn(t)
	f.send(t, conn, fmt.Sprintf(
		`{"event":"pusher:connection_established","data":"{\"socket_id\":\"%s\",\"activity_timeout\":120}"}`, socketID))
	return conn
}

// expectFrame returns the next frame with the given event name, skipping
// keepalive pongs unless those are what is asked for.
func (f *fakeService) expectFrame(t *testing.T, eventName string) protocol.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-f.frames:
			if msg.Event == eventName {
				return msg
			}
			if msg.Event == wavesock.EventPong && eventName != wavesock.EventPong {
				continue
			}
			t.Fatalf("frame = %q, want %q", msg.Event, eventName)
		case <-deadline:
			t.Fatalf("no %q frame received", eventName)
		}
	}
}

// expectNoFrame asserts that nothing is written within the window.
func (f *fakeService) expectNoFrame(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case msg := <-f.frames:
		t.Fatalf("unexpected frame %q", msg.Event)
	case <-time.After(window):
	}
}

// subscribeData decodes the data half of a subscribe frame.
type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

func decodeSubscribe(t *testing.T, msg protocol.Message) subscribeData {
	t.Helper()
	var sd subscribeData
	if err := json.Unmarshal(msg.Data, &sd); err != nil {
		t.Fatalf("decoding subscribe data: %v", err)
	}
	return sd
}

// ack acknowledges a subscription, echoing the channel name.
func (f *fakeService) ack(t *testing.T, conn *websocket.Conn, channelName string) {
	t.Helper()
	f.send(t, conn, fmt.Sprintf(
		`{"event":"pusher_internal:subscription_succeeded","channel":"%s","data":"{}"}`, channelName))
}

func waitForState(t *testing.T, c *Connection, want wavesock.ConnectionState) {
	t.Helper()
	waitFor(t, fmt.Sprintf("state %v", want), func() bool { return c.State() == want })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
