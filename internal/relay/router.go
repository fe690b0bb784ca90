package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/config"
	"github.com/okutko/duplex/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func SetupRouter(cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": hub.Peers()})
	})

	r.GET("/ws/signal", func(c *gin.Context) {
		handleSignal(c, hub, cfg.ReadLimit)
	})

	log.Info().Str("module", "relay").Msg("router setup")
	return r
}

// handleSignal upgrades the connection, assigns the peer id and runs
// the pumps. The id is delivered as the first envelope; until the
// client has it, it cannot place calls.
func handleSignal(c *gin.Context, hub *Hub, readLimit int64) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	id := domain.PeerID(uuid.NewString())
	cl := newClient(id, ws)
	if err := cl.sendIdentity(); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("identity send")
		cl.close()
		return
	}
	hub.register(cl)
	log.Info().Str("module", "relay").Str("peer", string(id)).Msg("new WS connection")

	go cl.writePump()
	go cl.readPump(hub, readLimit)
}
