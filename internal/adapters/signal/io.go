package signal

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
)

const writeWait = 5 * time.Second

func encode(msg core.SignalMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Channel) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Channel) readPump() {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		c.Close()
		c.doneOnce.Do(func() { close(c.done) })
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch runs on the read-pump goroutine only; together with the
// relay's per-pair ordering this gives handlers a single logical thread
// of control with no concurrent re-entrant handling.
func (c *Channel) dispatch(data []byte) {
	var msg core.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	if msg.Type == core.MsgIdentity {
		c.mu.Lock()
		first := c.localID == ""
		c.localID = msg.ID
		c.mu.Unlock()
		if first {
			close(c.ready)
		}
		return
	}

	c.mu.RLock()
	handler := c.handlers[msg.Type]
	c.mu.RUnlock()
	if handler == nil {
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unknown signal")
		return
	}
	handler(msg)
}
