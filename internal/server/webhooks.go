package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	intakedomain "github.com/smallbiznis/pushrelay/internal/intake/domain"
)

const maxWebhookBody = 1 << 20

// TaskWebhook accepts a task completion from an API key holder. New and
// duplicate deliveries both answer 200.
func (s *Server) TaskWebhook(c *gin.Context) {
	cred, ok := credentialFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	var req intakedomain.TaskWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.intakeSvc.AcceptTask(c.Request.Context(), cred, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("event_id", res.EventID)
	c.Set("duplicate", res.Duplicate)
	c.JSON(http.StatusOK, res)
}

// AgentWebhook accepts an event from a registered agent. The secret may
// come from the x-agent-secret header or the secret query parameter.
func (s *Server) AgentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("body", "too_large", "request body too large"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	secret := strings.TrimSpace(c.GetHeader("X-Agent-Secret"))
	if secret == "" {
		secret = strings.TrimSpace(c.Query("secret"))
	}

	res, err := s.intakeSvc.AcceptAgent(c.Request.Context(), intakedomain.AgentWebhookInput{
		AgentID:   strings.TrimSpace(c.Param("agentId")),
		Secret:    secret,
		Signature: qstashSignature(c),
		Body:      body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("event_id", res.EventID)
	c.Set("duplicate", res.Duplicate)
	c.JSON(http.StatusOK, res)
}
