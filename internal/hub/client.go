package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client is one subscriber connection. Outbound messages are queued in a
// bounded buffer and written by a single pump goroutine, so publishers never
// wait on the network.
type Client struct {
	ID string

	send     chan []byte
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// NewClient creates a client with a send queue of the given capacity.
func NewClient(id string, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		ID:       id,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. It returns false if the client is
// closed or its queue is full.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the client. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until WritePump has returned.
func (c *Client) Wait() {
	<-c.finished
}

// WritePump writes queued messages to conn until the client is closed or a
// write fails. On close it flushes what is already queued, sends a close
// frame and closes conn, which also unblocks the connection's reader.
func (c *Client) WritePump(conn *websocket.Conn) {
	defer close(c.finished)
	defer conn.Close()

	write := func(msg []byte) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}

	for {
		select {
		case msg := <-c.send:
			if err := write(msg); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := write(msg); err != nil {
						return
					}
				default:
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}
