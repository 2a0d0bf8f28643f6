package server

import (
	"github.com/gin-gonic/gin"
)

// authorize checks the caller's role against the RBAC policy for object
// and action inside the caller's own tenant.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := identityFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		if err := s.authzSvc.Authorize(c.Request.Context(), ident.Subject(), ident.TenantID, ident.Role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
