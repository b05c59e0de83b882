package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/adamscao/vpnaccess/internal/access"
	"github.com/adamscao/vpnaccess/internal/api/middleware"
	"github.com/adamscao/vpnaccess/internal/models"
	"github.com/adamscao/vpnaccess/internal/status"
)

// AccessService is the access lifecycle as seen by the HTTP layer
type AccessService interface {
	Issue(ctx context.Context, userID int64) (*access.IssueResult, error)
	Revoke(ctx context.Context, userID int64) (*access.RevokeResult, error)
	ValidateSecondFactor(ctx context.Context, userID int64, code, sourceAddress string) (*models.ConnectionEvent, error)
	ListActive(ctx context.Context) ([]*models.ActiveCredential, error)
	History(ctx context.Context, userID int64, limit int) ([]*models.ConnectionEvent, error)
	Status(ctx context.Context) *status.Snapshot
	RecordConnection(ctx context.Context, userID int64, sourceAddress, eventType string) (*models.ConnectionEvent, error)
}

// AdminHandler handles administrative operations
type AdminHandler struct {
	svc AccessService
	log logrus.FieldLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc AccessService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		svc: svc,
		log: log,
	}
}

// RevokeResponse represents a revoke response
type RevokeResponse struct {
	Status  string               `json:"status"`
	Message string               `json:"message"`
	Result  *access.RevokeResult `json:"result"`
}

// ListResponse represents the active user listing
type ListResponse struct {
	Users []*models.ActiveCredential `json:"users"`
	Count int                        `json:"count"`
}

// HistoryResponse represents a connection history page
type HistoryResponse struct {
	UserID int64                     `json:"user_id"`
	Events []*models.ConnectionEvent `json:"events"`
}

// GenerateAccess issues VPN access for a user
// POST /v1/vpn/users/:userId/generate
func (h *AdminHandler) GenerateAccess(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	res, err := h.svc.Issue(c.Request.Context(), userID)
	if err != nil {
		h.logFailure(c, "issue", userID, err)
		RespondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// RevokeAccess revokes a user's VPN access
// PUT /v1/vpn/users/:userId/revoke
func (h *AdminHandler) RevokeAccess(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	res, err := h.svc.Revoke(c.Request.Context(), userID)
	if err != nil {
		h.logFailure(c, "revoke", userID, err)
		RespondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, RevokeResponse{
		Status:  "ok",
		Message: "VPN access successfully revoked",
		Result:  res,
	})
}

// ListActive lists users with active VPN access
// GET /v1/vpn/users
func (h *AdminHandler) ListActive(c *gin.Context) {
	users, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		h.logFailure(c, "list", 0, err)
		RespondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Users: users, Count: len(users)})
}

// History returns a user's recent connection events
// GET /v1/vpn/users/:userId/history?limit=
func (h *AdminHandler) History(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, string(access.KindInvalidInput), "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.svc.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.logFailure(c, "history", userID, err)
		RespondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{UserID: userID, Events: events})
}

// Status returns the tunnel daemon's status snapshot
// GET /v1/vpn/status
func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status(c.Request.Context()))
}

func (h *AdminHandler) logFailure(c *gin.Context, op string, userID int64, err error) {
	h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"op":         op,
		"user_id":    userID,
		"kind":       access.KindOf(err),
	}).WithError(err).Warn("access operation failed")
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusBadRequest, string(access.KindInvalidInput), "Invalid user id")
		return 0, false
	}
	return id, true
}
