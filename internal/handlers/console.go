package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/osc"
)

const (
	defaultConsolePort = 3032
	defaultConsoleRate = 100 * time.Millisecond
)

// ConsoleRequest reconfigures the direct console bridge. An empty ip
// disables direct delivery.
type ConsoleRequest struct {
	IP           string `json:"ip" example:"10.0.0.20"`
	Port         int    `json:"port,omitempty" example:"3032"`
	Mode         string `json:"mode,omitempty" example:"tcp"`
	UDPLocalPort int    `json:"udpLocalPort,omitempty" example:"8001"`
	// Pause between commands in milliseconds; omitted means 100.
	RateMs *int `json:"rateMs,omitempty" example:"100"`
}

type consoleResponse struct {
	Configured   bool   `json:"configured"`
	IP           string `json:"ip,omitempty"`
	Port         int    `json:"port,omitempty"`
	Mode         string `json:"mode,omitempty"`
	UDPLocalPort int    `json:"udpLocalPort,omitempty"`
	RateMs       int64  `json:"rateMs,omitempty"`
}

func toConsoleResponse(cfg osc.Config, ok bool) consoleResponse {
	if !ok {
		return consoleResponse{}
	}
	return consoleResponse{
		Configured:   true,
		IP:           cfg.Host,
		Port:         cfg.Port,
		Mode:         cfg.Mode,
		UDPLocalPort: cfg.UDPLocalPort,
		RateMs:       cfg.Rate.Milliseconds(),
	}
}

// @Summary      Direct console endpoint
// @Tags         console
// @Produce      json
// @Success      200  {object}  consoleResponse
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/console [get]
// @Security     BearerAuth
func (h *Handler) getConsole(c *gin.Context) {
	if h.services.Console == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "direct console bridge unavailable"})
		return
	}
	c.JSON(http.StatusOK, toConsoleResponse(h.services.Console.Config()))
}

// @Summary      Reconfigure the direct console
// @Description  The current transport is closed before the new one opens. The ip must be whitelisted when a whitelist is set.
// @Tags         console
// @Accept       json
// @Produce      json
// @Param        body  body      ConsoleRequest  true  "Console endpoint"
// @Success      200   {object}  consoleResponse
// @Failure      400   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/v1/console [put]
// @Security     BearerAuth
func (h *Handler) putConsole(c *gin.Context) {
	if h.services.Console == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "direct console bridge unavailable"})
		return
	}
	var req ConsoleRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}

	cfg := osc.Config{
		Host:         strings.TrimSpace(req.IP),
		Port:         req.Port,
		Mode:         strings.ToLower(strings.TrimSpace(req.Mode)),
		UDPLocalPort: req.UDPLocalPort,
		Rate:         defaultConsoleRate,
	}
	if cfg.Port == 0 {
		cfg.Port = defaultConsolePort
	}
	if cfg.Mode == "" {
		cfg.Mode = osc.ModeTCP
	}
	if req.RateMs != nil {
		if *req.RateMs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rateMs must be >= 0"})
			return
		}
		cfg.Rate = time.Duration(*req.RateMs) * time.Millisecond
	}

	if err := h.services.Console.Reconfigure(cfg); err != nil {
		h.respondError(c, "console_reconfigure_failed", err, "ip", cfg.Host, "mode", cfg.Mode)
		return
	}
	if h.log != nil {
		h.log.Infow("console_reconfigured", "ip", cfg.Host, "port", cfg.Port, "mode", cfg.Mode, "operator_id", operatorID(c))
	}
	c.JSON(http.StatusOK, toConsoleResponse(h.services.Console.Config()))
}
