package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/nearby/internal/protocol"
	"github.com/1ureka/nearby/internal/util"
)

// outboxSize bounds the per-client queue of messages waiting to be written.
// A client that falls this far behind is dropped.
const outboxSize = 256

// advert is what a client advertises.
type advert struct {
	name     string
	service  string
	strategy string
}

// client is one connected peer. Its advertising/discovery fields are guarded
// by the Server's mutex; writes go through a single writer goroutine.
type client struct {
	id   string
	conn *websocket.Conn

	out       chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	advert   *advert // nil when not advertising
	discover string  // service being discovered, "" when not discovering
}

func newClient(id string, conn *websocket.Conn) *client {
	c := &client{
		id:   id,
		conn: conn,
		out:  make(chan protocol.Message, outboxSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop is the single writer for the WebSocket. Messages are written in
// the order they were queued.
func (c *client) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			if err := c.conn.WriteJSON(msg); err != nil {
				util.LogDebug("[hub] write to %s failed: %v", c.id, err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// send queues msg without blocking. A full outbox closes the client.
func (c *client) send(msg protocol.Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.out <- msg:
	default:
		util.LogWarning("[hub] outbox of %s is full, dropping client", c.id)
		c.close()
	}
}

// ack answers a command. Commands without a ref are not acknowledged.
func (c *client) ack(ref uint64, err error) {
	if ref == 0 {
		return
	}
	msg := protocol.Message{Type: protocol.MsgAck, Ref: ref}
	if err != nil {
		msg.Error = err.Error()
	}
	c.send(msg)
}

// close shuts the connection down. Safe to call multiple times.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
