package conn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send transport-level pings with this period. Must be less than
	// pongWait.
	pingPeriod = 54 * time.Second

	// Outbound message buffer per socket.
	sendBufferSize = 256
)

// socket is one live WebSocket. The connection replaces the whole socket on
// every reconnect; goroutines belonging to a previous socket detect they
// are stale and exit.
type socket struct {
	conn      *websocket.Conn
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{
		conn:   conn,
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// writePump pumps messages from the send channel to the websocket
// connection and keeps the transport alive with periodic pings. It exits
// when the socket's done channel closes.
func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

// close tears the socket down. Safe to call from any goroutine; only the
// first call sends the close frame.
func (s *socket) close(code int) {
	s.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, "")
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage, message, deadline)
		close(s.done)
		s.conn.Close()
	})
}
