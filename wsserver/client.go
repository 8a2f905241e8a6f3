package wsserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds how long one frame write may block so a wedged client
	// cannot stall its write pump past the next delivery attempt.
	writeWait = 10 * time.Second

	// pongWait / pingPeriod keep idle connections alive through proxies and
	// detect silently dead peers.
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// wsConn is the subset of *websocket.Conn the write pump touches. Tests
// substitute a recording fake.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one connected display session. The registry is the sole owner of
// its lifetime: sessions are registered after the initial full-state push and
// unregistered on any transport failure or disconnect.
type Client struct {
	id          uint64
	remoteAddr  string
	conn        wsConn
	send        chan []byte // bounded outbound queue, latest-state-wins
	done        chan struct{}
	closeOnce   sync.Once
	dropCount   atomic.Uint64 // updates dropped for this client due to backpressure
	connectedAt time.Time
}

func newClient(id uint64, remoteAddr string, conn wsConn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Client{
		id:          id,
		remoteAddr:  remoteAddr,
		conn:        conn,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
		connectedAt: time.Now().UTC(),
	}
}

// enqueue queues a serialized update without ever blocking the broadcaster.
// When the queue is full the oldest pending update is discarded in favor of
// the new one: a slow client sees stale state replaced by fresh state, other
// clients see nothing at all.
func (c *Client) enqueue(msg []byte) (dropped bool) {
	select {
	case c.send <- msg:
		return false
	default:
	}
	select {
	case <-c.send:
		c.dropCount.Add(1)
		dropped = true
	default:
	}
	select {
	case c.send <- msg:
	default:
		// Racing writer drained and refilled the queue; counting this as a
		// drop of the new message keeps the metric honest.
		c.dropCount.Add(1)
		dropped = true
	}
	return dropped
}

// close marks the session finished. Safe to call from any goroutine and any
// number of times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the outbound queue to the transport in enqueue order and
// emits keepalive pings. It exits on transport failure or session close; the
// caller unregisters the session afterwards.
func (c *Client) writePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return nil
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// Drops returns how many updates were discarded for this client.
func (c *Client) Drops() uint64 {
	return c.dropCount.Load()
}
