package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader upgrades HTTP requests to WebSockets.
//
// CheckOrigin allows every origin; the server binds to localhost by default.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWS streams acquisition events. The first frame is the current status
// so a fresh page can render without polling /api/status.
//
// Incoming messages are ignored; the read loop only detects disconnects.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := s.hub.Add(conn)
	s.logger.Debug("WebSocket client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Int("clients", s.hub.Len()))

	if err := client.Send(WSMessage{Type: "status", Data: s.ctrl.Status()}); err != nil {
		s.hub.Remove(client)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read error", zap.Error(err))
			}
			s.hub.Remove(client)
			return
		}
	}
}
