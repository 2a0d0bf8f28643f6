package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pushrelay/internal/identity"
	obscontext "github.com/smallbiznis/pushrelay/internal/observability/context"
)

const contextIdentityKey = "identity"

// AuthRequired authenticates management routes with an identity provider
// token. The token subject becomes the tenant every handler operates on.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ident, err := s.identity.Verify(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), ident.TenantID)
		ctx = obscontext.WithActor(ctx, "user", ident.TenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextIdentityKey, ident)
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (*identity.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil, false
	}
	ident, ok := value.(*identity.Identity)
	if !ok || ident == nil || strings.TrimSpace(ident.TenantID) == "" {
		return nil, false
	}
	return ident, true
}

// tenantID must only be called behind AuthRequired.
func tenantID(c *gin.Context) string {
	ident, ok := identityFromContext(c)
	if !ok {
		return ""
	}
	return ident.TenantID
}
