package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-multicam/internal/hub"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// WSHandler upgrades viewer connections and joins them to a hub topic.
type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler. An empty allowedOrigins list
// accepts every origin.
func NewWSHandler(h *hub.Hub, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// RegisterRoutes registers the viewer feeds.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	ws := r.Group("/ws")
	{
		ws.GET("/shows/:showId", func(c *gin.Context) {
			h.serve(c, hub.ShowTopic(c.Param("showId")))
		})
		ws.GET("/matches/:fixtureId", func(c *gin.Context) {
			h.serve(c, hub.MatchTopic(c.Param("fixtureId")))
		})
	}
}

func (h *WSHandler) serve(c *gin.Context, topic string) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}

	go client.WritePump()

	if err := h.hub.Join(ctx, client, topic); err != nil {
		l.Error().Err(err).Str("topic", topic).Msg("failed to join topic")
		client.SendMessage(map[string]string{"type": "error", "message": "feed unavailable"})
		h.hub.Unregister(client)
		return
	}

	go client.ReadPump()
}
