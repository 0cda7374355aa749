package agent

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/osc"
)

// ConfigUpdate is a partial edit of the node configuration from the local page.
type ConfigUpdate struct {
	CloudURL     *string `json:"cloudUrl"`
	ConsoleIP    *string `json:"consoleIp"`
	OSCMode      *string `json:"oscMode"`
	OSCPort      *int    `json:"oscPort"`
	UDPLocalPort *int    `json:"udpLocalPort"`
	OSCRateMs    *int    `json:"oscRateMs"`
}

// LocalAPI serves the node's status page API, loopback only by default.
type LocalAPI struct {
	agent *Agent
}

func NewLocalAPI(a *Agent) *LocalAPI {
	return &LocalAPI{agent: a}
}

// Routes builds the gin router.
func (l *LocalAPI) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/status", l.status)
		api.GET("/config", l.getConfig)
		api.POST("/config", l.postConfig)
		api.POST("/pair/check", l.pairCheck)
		api.POST("/test", l.test)
	}
	return router
}

func (l *LocalAPI) status(c *gin.Context) {
	c.JSON(http.StatusOK, l.agent.Status())
}

func (l *LocalAPI) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, l.agent.Config().Redacted())
}

func (l *LocalAPI) postConfig(c *gin.Context) {
	var req ConfigUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	next := l.agent.Config()
	if req.CloudURL != nil {
		next.CloudURL = strings.TrimRight(strings.TrimSpace(*req.CloudURL), "/")
	}
	if req.ConsoleIP != nil {
		next.ConsoleIP = strings.TrimSpace(*req.ConsoleIP)
	}
	if req.OSCMode != nil {
		next.OSCMode = strings.ToLower(strings.TrimSpace(*req.OSCMode))
	}
	if req.OSCPort != nil {
		next.OSCPort = *req.OSCPort
	}
	if req.UDPLocalPort != nil {
		next.UDPLocalPort = *req.UDPLocalPort
	}
	if req.OSCRateMs != nil {
		if *req.OSCRateMs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "oscRateMs must be >= 0"})
			return
		}
		next.OSCRate = time.Duration(*req.OSCRateMs) * time.Millisecond
	}

	if err := l.agent.UpdateConfig(next); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, osc.ErrUnknownMode) {
			code = http.StatusBadRequest
		}
		// Saved but the console could not be opened; report it without failing the edit.
		if code == http.StatusInternalServerError && l.agent.Config() == next {
			c.JSON(http.StatusOK, gin.H{"status": "saved", "warning": err.Error(), "config": next.Redacted()})
			return
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "config": next.Redacted()})
}

func (l *LocalAPI) pairCheck(c *gin.Context) {
	paired, err := l.agent.CheckPairing(c.Request.Context())
	switch {
	case paired:
		c.JSON(http.StatusOK, gin.H{"status": "paired", "nodeId": l.agent.Config().NodeID})
	case errors.Is(err, ErrNoPairing):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPairingPending):
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// test sends a single command line reset to the console.
func (l *LocalAPI) test(c *gin.Context) {
	err := l.agent.SendOSC([]osc.Command{{Address: "/eos/newcmd"}})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	case errors.Is(err, ErrNoConsole):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
