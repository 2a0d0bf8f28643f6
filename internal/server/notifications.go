package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"github.com/smallbiznis/pushrelay/internal/push"
	"gorm.io/datatypes"
)

const (
	defaultTestTitle = "Test notification"
	defaultTestBody  = "This is a test notification from pushrelay"
)

type testNotificationRequest struct {
	Title *string `json:"title" binding:"omitempty,max=200"`
	Body  *string `json:"body" binding:"omitempty,max=1000"`
	URL   *string `json:"url" binding:"omitempty,max=2048"`
}

// SendTestNotification queues a one-off push to every enabled subscription
// of the caller. The dispatcher delivers it like any other job.
func (s *Server) SendTestNotification(c *gin.Context) {
	var req testNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, bindError(err))
		return
	}

	if err := s.push.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	tenant := tenantID(c)

	subs, err := s.subscriptionSvc.ListEnabled(ctx, tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(subs) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"queued":  false,
			"message": "No push subscription found. Enable notifications in your browser first.",
		})
		return
	}

	payload, err := push.Notification{
		Title: valueOr(req.Title, defaultTestTitle),
		Body:  valueOr(req.Body, defaultTestBody),
		Data:  map[string]any{"url": valueOr(req.URL, "/dashboard")},
	}.Marshal()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.jobSvc.EnqueueIfNew(ctx, jobdomain.EnqueueRequest{
		TenantID:  tenant,
		Channel:   jobdomain.ChannelTest,
		DedupeKey: "test:" + tenant + ":" + ulid.Make().String(),
		Payload:   datatypes.JSON(payload),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":       true,
		"queued":        true,
		"jobId":         res.Job.ID.String(),
		"subscriptions": len(subs),
	})
}

func (s *Server) ListNotificationJobs(c *gin.Context) {
	var req jobdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	jobs, err := s.jobSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// RequeueNotificationJob moves a failed job back to pending for an
// immediate run. Its attempt count is kept.
func (s *Server) RequeueNotificationJob(c *gin.Context) {
	job, err := s.jobSvc.Requeue(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Logged under the job's tenant so the owner sees operator actions.
	s.recordAudit(c, job.TenantID, auditdomain.ActionJobRequeue, authorization.ObjectNotificationJob, job.ID.String(), map[string]any{
		"attempts": job.Attempts,
	})
	c.JSON(http.StatusOK, gin.H{"data": job})
}

func valueOr(v *string, def string) string {
	if v == nil {
		return def
	}
	if trimmed := strings.TrimSpace(*v); trimmed != "" {
		return trimmed
	}
	return def
}
