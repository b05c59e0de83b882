package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vpnaccess/internal/access"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

var kindStatus = map[access.Kind]int{
	access.KindAlreadyActive:        http.StatusConflict,
	access.KindNoActiveAccess:       http.StatusNotFound,
	access.KindNotFound:             http.StatusNotFound,
	access.KindInvalidCode:          http.StatusUnauthorized,
	access.KindIssuerGatewayError:   http.StatusBadGateway,
	access.KindIssuerGatewayTimeout: http.StatusGatewayTimeout,
	access.KindTemplateError:        http.StatusInternalServerError,
	access.KindPersistenceError:     http.StatusInternalServerError,
	access.KindForbidden:            http.StatusForbidden,
	access.KindInvalidInput:         http.StatusBadRequest,
}

// RespondAccessError maps an orchestrator error to a response. Only the
// error's public message is sent; wrapped causes stay in the server log.
func RespondAccessError(c *gin.Context, err error) {
	kind := access.KindOf(err)

	code, ok := kindStatus[kind]
	if !ok {
		RespondError(c, http.StatusInternalServerError, string(access.KindInternal), "Internal server error")
		return
	}

	message := "Request failed"
	var e *access.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	RespondError(c, code, string(kind), message)
}

// GetClientIP gets the real client IP address
func GetClientIP(c *gin.Context) string {
	// Try X-Forwarded-For header first (for proxied requests)
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}

	// Try X-Real-IP header
	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}

	// Fall back to RemoteAddr
	return c.ClientIP()
}
