package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

const (
	ActionAPIKeyCreate       = "api_key.create"
	ActionAPIKeyDelete       = "api_key.delete"
	ActionAgentCreate        = "agent.create"
	ActionAgentDelete        = "agent.delete"
	ActionSubscriptionUpsert = "push_subscription.upsert"
	ActionSubscriptionDelete = "push_subscription.delete"
	ActionSettingsUpdate     = "user_settings.update"
	ActionTaskDelete         = "agent_task.delete"
	ActionTaskClear          = "agent_task.clear"
	ActionJobRequeue         = "notification_job.requeue"

	DefaultListLimit = 50
	MaxListLimit     = 250
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

type Service interface {
	// Record writes entry. Actor and request id come from ctx.
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, tenantID string, req ListRequest) ([]AuditLog, error)
}

type Entry struct {
	TenantID   string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

type ListRequest struct {
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	Limit      int    `form:"limit"`
}

type ListFilter struct {
	TenantID   string
	Action     string
	TargetType string
	Limit      int
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidAction = errors.New("invalid_action")
)
