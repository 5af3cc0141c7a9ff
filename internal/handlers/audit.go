package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuspilot/backend/internal/middleware"
	"github.com/campuspilot/backend/internal/services"
	appErrors "github.com/campuspilot/backend/pkg/errors"
	"github.com/campuspilot/backend/pkg/response"
)

// AuditHandler exposes the credential lifecycle audit trail.
type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// GET /api/audit
//
// Admin only. Supports ?user_id=, ?action= and ?limit= filters.
func (h *AuditHandler) List(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)

	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		logs, err := h.audit.ListForUser(requestContext(c), userID, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"entries": logs})
		return
	}

	logs, err := h.audit.ListRecent(requestContext(c), c.Query("action"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entries": logs})
}

// GET /api/audit/me
func (h *AuditHandler) ListMine(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	logs, err := h.audit.ListForUser(requestContext(c), principal.UserID, parseIntQuery(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entries": logs})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
