package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

// CreateAPIKey returns the raw key. It is never shown again.
func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.apiKeySvc.Issue(c.Request.Context(), tenantID(c), strings.TrimSpace(req.Name))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionAPIKeyCreate, authorization.ObjectAPIKey, resp.ID, map[string]any{
		"name":      resp.Name,
		"keyPrefix": resp.KeyPrefix,
	})
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeleteAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("id"))
	if err := s.apiKeySvc.Delete(c.Request.Context(), tenantID(c), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionAPIKeyDelete, authorization.ObjectAPIKey, keyID, nil)
	c.Status(http.StatusNoContent)
}
