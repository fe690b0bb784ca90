package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendQueueSize = 32
	writeWait     = 5 * time.Second
)

// client is one relay-side websocket connection. A single writer pump
// drains the send queue, which keeps delivery FIFO per recipient.
type client struct {
	id   domain.PeerID
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(id domain.PeerID, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

func (c *client) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *client) sendError(reason string) {
	b, err := json.Marshal(core.SignalMessage{Type: core.MsgError, Error: reason})
	if err != nil {
		return
	}
	_ = c.trySend(b)
}

// sendIdentity announces the assigned id. Queued first, before the hub
// can route anything to this client, so identity always arrives first.
func (c *client) sendIdentity() error {
	b, err := json.Marshal(core.SignalMessage{Type: core.MsgIdentity, ID: c.id})
	if err != nil {
		return err
	}
	return c.trySend(b)
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "relay").Str("peer", string(c.id)).Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay").Str("peer", string(c.id)).Msg("writePump write error")
			return
		}
	}
}

func (c *client) readPump(h *Hub, readLimit int64) {
	defer func() {
		h.unregister(c)
		c.close()
	}()

	if readLimit > 0 {
		c.conn.SetReadLimit(readLimit)
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "relay").Str("peer", string(c.id)).Msg("readPump read error")
			}
			return
		}
		h.route(c, data)
	}
}
