package events

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced at the echo layer.
		return true
	},
}

// WSHandler upgrades HTTP connections and relays hub events to them.
type WSHandler struct {
	hub *Hub
	log zerolog.Logger
}

func NewWSHandler(hub *Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// RegisterRoutes mounts the feed endpoint on the given group.
func (h *WSHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/events", h.handleConnect)
}

// handleConnect subscribes the connection to the follow-up feed. The
// connection is write-only from the server's perspective; the read loop
// exists to notice the peer going away.
func (h *WSHandler) handleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := h.hub.attach([]string{TopicFollowUpUpdated})

	go func() {
		defer ws.Close()
		for msg := range sub.send {
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer h.hub.detach(sub)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}
