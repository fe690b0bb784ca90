// Package signal is the websocket client of the relay. It delivers
// inbound envelopes to registered handlers from a single goroutine and
// queues outbound envelopes through a single writer, which preserves
// per-recipient ordering.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const sendQueueSize = 32

// Channel implements core.SignalChannel over one relay connection.
// Register handlers with On before calling Connect; the read pump
// starts dispatching as soon as the socket is up.
type Channel struct {
	mu       sync.RWMutex
	conn     *websocket.Conn
	send     chan []byte
	closed   bool
	localID  domain.PeerID
	handlers map[core.MessageType]func(core.SignalMessage)

	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func NewChannel() *Channel {
	return &Channel{
		handlers: make(map[core.MessageType]func(core.SignalMessage)),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay and blocks until it assigns a local id, or
// ctx expires. Until the id is assigned no outbound call can be placed.
func (c *Channel) Connect(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, sendQueueSize)
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()

	select {
	case <-c.ready:
		log.Info().Str("module", "signal").Str("id", string(c.LocalID())).Msg("identity assigned")
		return nil
	case <-c.done:
		return errors.New("relay connection closed before identity was assigned")
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

// LocalID returns the relay-assigned id, or "" before registration.
func (c *Channel) LocalID() domain.PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localID
}

// On registers exactly one handler per message type. A duplicate
// registration is a programmer error.
func (c *Channel) On(t core.MessageType, handler func(core.SignalMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.handlers[t]; dup {
		panic(fmt.Sprintf("signal: handler for %q registered twice", t))
	}
	c.handlers[t] = handler
}

// Send queues one envelope for the writer. Best-effort: a full queue
// drops the message with an error rather than blocking a handler.
func (c *Channel) Send(msg core.SignalMessage) error {
	b, err := encode(msg)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.conn == nil {
		return errors.New("channel closed")
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.send != nil {
		close(c.send)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	log.Info().Str("module", "signal").Msg("channel closed")
}
