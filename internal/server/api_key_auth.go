package server

import (
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	obscontext "github.com/smallbiznis/pushrelay/internal/observability/context"
)

const contextCredentialKey = "api_key_credential"

// APIKeyRequired authenticates webhook callers by their fin_ API key. The
// tenant is taken from the key record, never from the request.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := s.intakeSvc.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), cred.TenantID)
		ctx = obscontext.WithActor(ctx, "api_key", cred.KeyID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextCredentialKey, *cred)
		c.Next()
	}
}

func credentialFromContext(c *gin.Context) (apikeydomain.Credential, bool) {
	value, ok := c.Get(contextCredentialKey)
	if !ok {
		return apikeydomain.Credential{}, false
	}
	cred, ok := value.(apikeydomain.Credential)
	if !ok || cred.TenantID == "" {
		return apikeydomain.Credential{}, false
	}
	return cred, true
}
