package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/service"
)

const statusOK = "ok"

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Submit a cue
// @Description  Creates a PENDING cue. Channels must lie inside the venue patch and levels in 0..100.
// @Tags         cues
// @Accept       json
// @Produce      json
// @Param        body  body      service.SubmitCueParams  true  "Cue"
// @Success      201   {object}  models.Cue
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Router       /api/v1/cues [post]
// @Security     BearerAuth
func (h *Handler) submitCue(c *gin.Context) {
	var req service.SubmitCueParams
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	cue, err := h.services.Cues.Submit(c.Request.Context(), req, operatorID(c))
	if err != nil {
		h.respondError(c, "cue_submit_failed", err, "venue_id", req.VenueID, "cue_number", req.CueNumber)
		return
	}
	c.JSON(http.StatusCreated, cue)
}

// @Summary      List cues of a venue
// @Tags         cues
// @Produce      json
// @Param        venueId  query     string  true  "Venue id"
// @Success      200      {object}  map[string]interface{}  "count, cues"
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Router       /api/v1/cues [get]
// @Security     BearerAuth
func (h *Handler) listCues(c *gin.Context) {
	venueID := strings.TrimSpace(c.Query("venueId"))
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "venueId is required"})
		return
	}
	cues, err := h.services.Cues.List(c.Request.Context(), venueID)
	if err != nil {
		h.respondError(c, "cue_list_failed", err, "venue_id", venueID)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(cues),
		"cues":  cues,
	})
}

// @Summary      Get a cue
// @Tags         cues
// @Produce      json
// @Param        id   path      string  true  "Cue id"
// @Success      200  {object}  models.Cue
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/cues/{id} [get]
// @Security     BearerAuth
func (h *Handler) getCue(c *gin.Context) {
	cue, err := h.services.Cues.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "cue_get_failed", err, "cue_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, cue)
}

// @Summary      Approve a pending cue
// @Description  Reusing a cue number already recorded in the list needs confirmDuplicate.
// @Tags         cues
// @Accept       json
// @Produce      json
// @Param        id    path      string                 true   "Cue id"
// @Param        body  body      service.ApproveParams  false  "Approval"
// @Success      200   {object}  models.Cue
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/cues/{id}/approve [patch]
// @Security     BearerAuth
func (h *Handler) approveCue(c *gin.Context) {
	var req service.ApproveParams
	if c.Request.ContentLength != 0 && !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	cue, err := h.services.Cues.Approve(c.Request.Context(), c.Param("id"), operatorID(c), req)
	if err != nil {
		h.respondError(c, "cue_approve_failed", err, "cue_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, cue)
}

// @Summary      Reject a pending cue
// @Tags         cues
// @Produce      json
// @Param        id   path      string  true  "Cue id"
// @Success      200  {object}  models.Cue
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/cues/{id}/reject [patch]
// @Security     BearerAuth
func (h *Handler) rejectCue(c *gin.Context) {
	cue, err := h.services.Cues.Reject(c.Request.Context(), c.Param("id"), operatorID(c))
	if err != nil {
		h.respondError(c, "cue_reject_failed", err, "cue_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, cue)
}
