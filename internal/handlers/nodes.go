package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
	"github.com/quickpayplatform/autocue/internal/service"
)

type completePairingRequest struct {
	Code  string `json:"code" binding:"required"`
	Nonce string `json:"nonce" binding:"required"`
}

// @Summary      Start node pairing
// @Description  Issues a short-lived pairing code and the nonce the node later presents to collect its token.
// @Tags         nodes
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "code, nonce, expiresAt"
// @Router       /api/node-pair/start [post]
func (h *Handler) startPairing(c *gin.Context) {
	pc, err := h.services.Nodes.StartPairing(c.Request.Context())
	if err != nil {
		h.respondError(c, "pairing_start_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":      pc.Code,
		"nonce":     pc.Nonce,
		"expiresAt": pc.ExpiresAt,
	})
}

// @Summary      Claim a pairing code for a venue
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Param        body  body      service.ClaimParams  true  "Claim"
// @Success      201   {object}  models.RelayNode
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/node-pair/claim [post]
// @Security     BearerAuth
func (h *Handler) claimPairing(c *gin.Context) {
	var req service.ClaimParams
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	node, err := h.services.Nodes.ClaimPairing(c.Request.Context(), req, operatorID(c))
	if err != nil {
		h.respondError(c, "pairing_claim_failed", err, "venue_id", req.VenueID)
		return
	}
	c.JSON(http.StatusCreated, node)
}

// @Summary      Complete node pairing
// @Description  Returns the node token exactly once. 404 while the code is unclaimed, 409 afterwards.
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Param        body  body      completePairingRequest  true  "Code and nonce"
// @Success      200   {object}  service.PairingResult
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/node-pair/complete [post]
func (h *Handler) completePairing(c *gin.Context) {
	var req completePairingRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	res, err := h.services.Nodes.CompletePairing(c.Request.Context(), req.Code, req.Nonce)
	if err != nil {
		h.respondError(c, "pairing_complete_failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      List relay nodes of a venue
// @Tags         nodes
// @Produce      json
// @Param        venueId  path      string  true  "Venue id"
// @Success      200      {object}  map[string]interface{}  "count, nodes"
// @Router       /api/v1/venues/{venueId}/nodes [get]
// @Security     BearerAuth
func (h *Handler) listVenueNodes(c *gin.Context) {
	nodes, err := h.services.Nodes.ListByVenue(c.Request.Context(), c.Param("venueId"))
	if err != nil {
		h.respondError(c, "node_list_failed", err, "venue_id", c.Param("venueId"))
		return
	}
	if nodes == nil {
		nodes = []models.RelayNode{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(nodes),
		"nodes": nodes,
	})
}

// @Summary      Send one OSC command through a relay node
// @Description  The node answers asynchronously with a command.result carrying the returned id.
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Param        nodeId  path      string       true  "Node id"
// @Param        body    body      osc.Command  true  "Command"
// @Success      202     {object}  map[string]string
// @Failure      400     {object}  map[string]string
// @Failure      404     {object}  map[string]string
// @Failure      409     {object}  map[string]string
// @Router       /api/v1/nodes/{nodeId}/command [post]
// @Security     BearerAuth
func (h *Handler) sendNodeCommand(c *gin.Context) {
	var cmd osc.Command
	if !h.bindJSONOrBadRequest(c, &cmd) {
		return
	}
	id, err := h.services.Nodes.SendCommand(c.Request.Context(), c.Param("nodeId"), cmd)
	if err != nil {
		h.respondError(c, "node_command_failed", err, "node_id", c.Param("nodeId"), "address", cmd.Address)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "dispatched"})
}

// @Summary      Node heartbeat over HTTP
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Param        nodeId  path  string            true  "Node id"
// @Param        body    body  models.Heartbeat  true  "Heartbeat"
// @Success      200     {object}  map[string]string
// @Failure      401     {object}  map[string]string
// @Router       /api/nodes/{nodeId}/heartbeat [post]
// @Security     NodeToken
func (h *Handler) nodeHeartbeat(c *gin.Context) {
	var hb models.Heartbeat
	if !h.bindJSONOrBadRequest(c, &hb) {
		return
	}
	nodeID := c.GetString(ctxNodeID)
	if err := h.services.Nodes.Heartbeat(c.Request.Context(), nodeID, hb); err != nil {
		h.respondError(c, "node_heartbeat_failed", err, "node_id", nodeID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      Report a dispatched cue's outcome
// @Description  Only an APPROVED cue of the node's venue changes status; late results are recorded and ignored.
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Param        nodeId  path      string           true  "Node id"
// @Param        cueId   path      string           true  "Cue id"
// @Param        body    body      relay.CueResult  true  "Result"
// @Success      200     {object}  models.Cue
// @Failure      403     {object}  map[string]string
// @Failure      404     {object}  map[string]string
// @Router       /api/nodes/{nodeId}/cues/{cueId}/result [post]
// @Security     NodeToken
func (h *Handler) nodeCueResult(c *gin.Context) {
	var res relay.CueResult
	if !h.bindJSONOrBadRequest(c, &res) {
		return
	}
	nodeID := c.GetString(ctxNodeID)
	cueID := strings.TrimSpace(c.Param("cueId"))
	cue, err := h.services.Nodes.ReportResult(c.Request.Context(), nodeID, cueID, res)
	if err != nil {
		h.respondError(c, "node_result_failed", err, "node_id", nodeID, "cue_id", cueID)
		return
	}
	c.JSON(http.StatusOK, cue)
}
