package live

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Observer send failures. Either causes the bus to drop the observer.
var (
	ErrObserverClosed = errors.New("live: observer closed")
	ErrObserverSlow   = errors.New("live: observer send buffer full")
)

// Client adapts one observer websocket to the Observer interface. Events
// are queued on a buffered channel and written by WritePump; a client that
// stops draining fails Send and is removed by the bus rather than stalling
// dispatch.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded observer connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the observer handle.
func (c *Client) ID() string { return c.id }

// Send queues an event for the write pump without blocking.
func (c *Client) Send(ev Event) error {
	select {
	case <-c.done:
		return ErrObserverClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return ErrObserverClosed
	default:
		return ErrObserverSlow
	}
}

// Close releases the client. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WritePump drains queued events onto the socket and keeps the connection
// alive with pings. Runs until Close or a write error; closes the socket on
// the way out.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump consumes inbound frames purely to track liveness: pongs refresh
// the read deadline and any read error means the peer is gone. Blocks until
// the connection drops, then closes the client.
func (c *Client) ReadPump() {
	defer c.Close()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
