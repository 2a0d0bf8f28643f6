package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pushrelay/internal/identity"
	obscontext "github.com/smallbiznis/pushrelay/internal/observability/context"
	"github.com/smallbiznis/pushrelay/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	maxDispatchBody    = 64 << 10
	dispatchRunTimeout = 5 * time.Minute
)

// DispatchTriggerRequired accepts a QStash signature or the configured
// bearer dispatch token. With neither configured the trigger is open.
func (s *Server) DispatchTriggerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(s.cfg.Dispatcher.TriggerToken)
		if token == "" && !s.dispatchVerifier.Enabled() {
			c.Next()
			return
		}

		if sig := qstashSignature(c); sig != "" && s.dispatchVerifier.Enabled() {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDispatchBody))
			if err != nil {
				AbortWithError(c, invalidRequestError())
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))

			if err := s.dispatchVerifier.Verify(sig, body); err != nil {
				AbortWithError(c, err)
				return
			}
			s.markSystemActor(c)
			c.Next()
			return
		}

		provided := identity.BearerToken(c.GetHeader("Authorization"))
		if token != "" && provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
			s.markSystemActor(c)
			c.Next()
			return
		}

		AbortWithError(c, ErrUnauthorized)
	}
}

func (s *Server) markSystemActor(c *gin.Context) {
	ctx := obscontext.WithActor(c.Request.Context(), "system", "dispatch_trigger")
	c.Request = c.Request.WithContext(ctx)
}

func qstashSignature(c *gin.Context) string {
	if sig := strings.TrimSpace(c.GetHeader("Upstash-Signature")); sig != "" {
		return sig
	}
	return strings.TrimSpace(c.GetHeader("X-Qstash-Signature"))
}

// DispatchPush runs one dispatch pass and reports its counters.
func (s *Server) DispatchPush(c *gin.Context) {
	if s.dispatcher == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	// A trigger client that hangs up must not cut a pass short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), dispatchRunTimeout)
	defer cancel()

	res, err := s.dispatcher.RunOnce(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("dispatch trigger failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	if res.Errors > 0 {
		logger.FromContext(ctx).Warn("dispatch trigger finished with job errors", zap.Int("errors", res.Errors))
	}
	c.JSON(http.StatusOK, res)
}
