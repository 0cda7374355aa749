package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quickpayplatform/autocue/internal/relay"
)

// Nodes are not browsers; Origin is not checked, the bearer token is.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// relayConnect authenticates a relay node and hands the upgraded socket to
// the session registry. A bad credential gets a bare 401 before any upgrade.
//
// @Summary      Relay node session (websocket)
// @Tags         nodes
// @Success      101
// @Failure      401
// @Router       /ws/nodes [get]
// @Security     NodeToken
func (h *Handler) relayConnect(c *gin.Context) {
	token := relay.BearerToken(c.GetHeader("Authorization"))
	nodeID, ok := h.services.Nodes.Authenticate(c.Request.Context(), token)
	if !ok {
		if h.log != nil {
			h.log.Infow("relay_auth_rejected", "remote", c.ClientIP())
		}
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if h.services.Relay == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "node_id", nodeID, "err", err)
		}
		return
	}
	h.services.Relay.Serve(c.Request.Context(), nodeID, conn)
}
