package handler

import (
	"net/http"

	"anonchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// any origin; the bearer token authenticates the socket
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades an authenticated request and hands the connection
// to the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	if h.Hub == nil {
		h.unavailable(c, "realtime")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Ctx(c.Request.Context()).Warnf("websocket upgrade: %v", err)
		return
	}
	if !h.Hub.Register(chathub.NewWebSocketClient(conn, h.Hub, currentUser(c))) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
	}
}
