package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vpnaccess/internal/access"
)

// HookHandler serves the endpoints called during tunnel authentication
type HookHandler struct {
	svc AccessService
}

// NewHookHandler creates a new hook handler
func NewHookHandler(svc AccessService) *HookHandler {
	return &HookHandler{svc: svc}
}

// ValidateMFARequest represents a second factor check
type ValidateMFARequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Token  string `json:"token"`
}

// ConnectionEventRequest represents a connect/disconnect report
type ConnectionEventRequest struct {
	UserID        int64  `json:"user_id" binding:"required"`
	EventType     string `json:"event_type" binding:"required"`
	SourceAddress string `json:"source_address"`
}

// ValidateMFA checks a one-time code
// POST /v1/vpn/validate-mfa
func (h *HookHandler) ValidateMFA(c *gin.Context) {
	var req ValidateMFARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, string(access.KindInvalidInput), "Invalid request body")
		return
	}

	if _, err := h.svc.ValidateSecondFactor(c.Request.Context(), req.UserID, req.Token, GetClientIP(c)); err != nil {
		RespondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "MFA validation successful",
	})
}

// RecordEvent appends a connection event reported by the daemon
// POST /v1/vpn/events
func (h *HookHandler) RecordEvent(c *gin.Context) {
	var req ConnectionEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, string(access.KindInvalidInput), "Invalid request body")
		return
	}

	source := req.SourceAddress
	if source == "" {
		source = GetClientIP(c)
	}

	event, err := h.svc.RecordConnection(c.Request.Context(), req.UserID, source, req.EventType)
	if err != nil {
		RespondAccessError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}
