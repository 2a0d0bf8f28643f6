package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
	settingsdomain "github.com/smallbiznis/pushrelay/internal/usersettings/domain"
)

func (s *Server) GetUserSettings(c *gin.Context) {
	settings, err := s.settingsSvc.Get(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

func (s *Server) UpdateUserSettings(c *gin.Context) {
	var req settingsdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	settings, err := s.settingsSvc.Update(c.Request.Context(), tenantID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionSettingsUpdate, authorization.ObjectUserSettings, "", map[string]any{
		"pushEnabled":  settings.PushEnabled,
		"soundEnabled": settings.SoundEnabled,
	})
	c.JSON(http.StatusOK, settings)
}
