package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/service"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", h.health)

	h.registerAuthRoutes(router)

	// Operator API (JWT)
	h.registerAPIRoutes(router)

	// Relay node API (node bearer token) and pairing
	h.registerNodeRoutes(router)

	// Relay sessions; credential checked before the upgrade
	router.GET("/ws/nodes", h.relayConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerCueRoutes(api)
		h.registerConsoleRoutes(api)

		api.POST("/node-pair/claim", h.claimPairing)
		api.GET("/venues/:venueId/nodes", h.listVenueNodes)
		api.POST("/nodes/:nodeId/command", h.sendNodeCommand)
	}
}

func (h *Handler) registerCueRoutes(api *gin.RouterGroup) {
	cues := api.Group("/cues")
	{
		cues.POST("", h.submitCue)
		cues.GET("", h.listCues)
		cues.GET("/:id", h.getCue)
		// Body example: {"label":"Act 1 open","confirmDuplicate":false}
		cues.PATCH("/:id/approve", h.approveCue)
		cues.PATCH("/:id/reject", h.rejectCue)
		cues.GET("/:id/logs", h.getCueLogs)
	}
}

func (h *Handler) registerConsoleRoutes(api *gin.RouterGroup) {
	api.GET("/console", h.getConsole)
	api.PUT("/console", h.putConsole)
}

func (h *Handler) registerNodeRoutes(r *gin.Engine) {
	pair := r.Group("/api/node-pair")
	{
		pair.POST("/start", h.startPairing)
		pair.POST("/complete", h.completePairing)
	}

	nodes := r.Group("/api/nodes/:nodeId", h.nodeAuthMiddleware)
	{
		nodes.POST("/heartbeat", h.nodeHeartbeat)
		nodes.POST("/cues/:cueId/result", h.nodeCueResult)
	}
}
