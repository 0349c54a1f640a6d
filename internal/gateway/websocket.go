package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	readTimeout = 60 * time.Second
	maxFrame    = 1 << 20

	// DefaultSendBuffer is the outbound queue length per connection.
	DefaultSendBuffer = 128
)

// ErrSendBufferFull is returned when a slow client's queue overflows. The
// connection is closed when it happens.
var ErrSendBufferFull = errors.New("send buffer full")

// Upgrader accepts websocket connections from any origin; labchat sits
// behind the clinic portal's own gateway.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSConn is a Transport over a gorilla websocket. Writes go through a
// buffered queue drained by a single writer goroutine.
type WSConn struct {
	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

// NewWSConn wraps ws with an outbound queue of the given length.
func NewWSConn(ws *websocket.Conn, buffer int) *WSConn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &WSConn{
		ws:    ws,
		send:  make(chan []byte, buffer),
		close: make(chan struct{}),
	}
}

// Start launches the write loop. Call it once.
func (c *WSConn) Start() {
	go c.writeLoop()
}

// Send encodes evt and queues it.
func (c *WSConn) Send(evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	select {
	case <-c.close:
		return ErrTransportClosed
	default:
	}
	select {
	case <-c.close:
		return ErrTransportClosed
	case c.send <- payload:
		return nil
	default:
		c.closeWith(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close sends a normal close frame and shuts the socket.
func (c *WSConn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "session closed")
	return nil
}

func (c *WSConn) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *WSConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *WSConn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// Serve runs one websocket client until it goes away: frames are decoded
// and dispatched in order, and the session is disconnected on exit.
func (g *Gateway) Serve(ctx context.Context, ws *websocket.Conn, buffer int) {
	conn := NewWSConn(ws, buffer)
	conn.Start()
	s := g.Connect(conn)
	defer g.Disconnect(s)

	ws.SetReadLimit(maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Printf("gateway: session %s read: %v", s.ID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.deliver(s, Event{Type: EventError, Data: ProtocolError{Error: "invalid payload"}})
			continue
		}
		if err := g.Dispatch(ctx, s, env); err != nil {
			log.Printf("gateway: session %s %s: %v", s.ID, env.Type, err)
		}
	}
}
