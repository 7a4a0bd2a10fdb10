package e2e_test

import (
	"encoding/json"
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
	"github.com/wavesock/wavesock-go/netmon"
)

// frame mirrors the wire envelope for test assertions.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// service is a minimal scripted server for driving the client end to end.
type service struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	connCh   chan *websocket.Conn
	frames   chan frame
}

func newService(t *testing.T) *service {
	s := &service{
		connCh: make(chan *websocket.Conn, 4),
		frames: make(chan frame, 64),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.connCh <- conn
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var f frame
				if json.Unmarshal(raw, &f) == nil {
					s.frames <- f
				}
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *service) options(t *testing.T) *wavesock.Options {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(s.srv.URL, "http://"))
	if err != nil {
		t.Fatalf("parsing service address: %v", err)
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

func (s *service) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.connCh:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func (s *service) send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("sending: %v", err)
	}
}

func (s *service) expect(t *testing.T, eventName string) frame {
	t.Helper()
	select {
	case f := <-s.frames:
		if f.Event != eventName {
			t.Fatalf("frame = %q, want %q", f.Event, eventName)
		}
		return f
	case <-time.After(3 * time.Second):
		t.Fatalf("no %q frame", eventName)
		return frame{}
	}
}
