package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/relay"
)

const (
	ctxUserID = "userId"
	ctxNodeID = "nodeId"
)

func (h *Handler) userIdMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing Authorization header",
		})
		return
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid Authorization header format",
		})
		return
	}

	userId, err := h.services.ParseToken(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	// store in Gin context
	c.Set(ctxUserID, userId)
	c.Next()
}

// nodeAuthMiddleware resolves the relay node bearer token. The node may only
// act on its own :nodeId.
func (h *Handler) nodeAuthMiddleware(c *gin.Context) {
	token := relay.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing node token"})
		return
	}
	nodeID, ok := h.services.Nodes.Authenticate(c.Request.Context(), token)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid node token"})
		return
	}
	if p := c.Param("nodeId"); p != "" && p != nodeID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not belong to this node"})
		return
	}
	c.Set(ctxNodeID, nodeID)
	c.Next()
}

func operatorID(c *gin.Context) int {
	return c.GetInt(ctxUserID)
}
