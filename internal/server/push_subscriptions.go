package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
)

// Subscribe stores a browser subscription, replacing the keys when the
// endpoint is already registered for the tenant.
func (s *Server) Subscribe(c *gin.Context) {
	var req subdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	req.TenantID = tenantID(c)

	id, err := s.subscriptionSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionSubscriptionUpsert, authorization.ObjectPushSubscription, id.String(), map[string]any{
		"endpointHost": endpointHost(req.Endpoint),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id.String()})
}

func (s *Server) ListPushSubscriptions(c *gin.Context) {
	subs, err := s.subscriptionSvc.List(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subs})
}

// Unsubscribe removes a subscription by endpoint. Removing an unknown
// endpoint succeeds.
func (s *Server) Unsubscribe(c *gin.Context) {
	var req subdomain.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	err := s.subscriptionSvc.Delete(c.Request.Context(), tenantID(c), req.Endpoint)
	switch {
	case err == nil:
		s.recordAudit(c, "", auditdomain.ActionSubscriptionDelete, authorization.ObjectPushSubscription, "", map[string]any{
			"endpointHost": endpointHost(req.Endpoint),
		})
	case !errors.Is(err, subdomain.ErrNotFound):
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func endpointHost(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return parsed.Host
}
