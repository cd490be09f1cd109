package control

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
)

// Frames can carry whole file payloads base64-encoded, so the read limit is
// generous.
const wsReadLimit = 16 * 1024 * 1024

// Endpoint upgrades incoming connections on the agent route and runs a
// session per connection. Agents and viewers share the same endpoint; what a
// connection sends determines which it is.
type Endpoint struct {
	hub *Hub
}

func NewEndpoint(hub *Hub) *Endpoint {
	return &Endpoint{hub: hub}
}

// Handle serves GET /alterion/panel/agent/:serverid/.
func (e *Endpoint) Handle(c *gin.Context) {
	serverID := c.Param("serverid")
	if serverID == "" {
		c.JSON(400, gin.H{"error": "serverid missing"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("Websocket accept failed", "server_id", serverID, "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	ch := NewChannel(NewWebsocketConn(conn), identity.NodeID(serverID), RoleViewer, c.ClientIP())
	NewSession(e.hub, serverID, ch).Run(c.Request.Context())
}
