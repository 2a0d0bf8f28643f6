package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/observability/logger"
	"go.uber.org/zap"
)

// recordAudit writes an audit entry for the caller's tenant. A failed
// write is logged and never fails the request.
func (s *Server) recordAudit(c *gin.Context, tenant, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if tenant == "" {
		tenant = tenantID(c)
	}

	ctx := c.Request.Context()
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		TenantID:   tenant,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		logger.FromContext(ctx).Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	logs, err := s.auditSvc.List(c.Request.Context(), tenantID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}
