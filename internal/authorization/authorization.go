package authorization

import (
	"context"
	"errors"
)

const (
	RoleTenant   = "tenant"
	RoleOperator = "operator"
)

const (
	ObjectAPIKey           = "api_key"
	ObjectPushSubscription = "push_subscription"
	ObjectUserSettings     = "user_settings"
	ObjectAgent            = "agent"
	ObjectAgentTask        = "agent_task"
	ObjectNotification     = "notification"
	ObjectNotificationJob  = "notification_job"
	ObjectAuditLog         = "audit_log"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	ActionNotificationTest    = "notification.test"
	ActionNotificationRequeue = "notification_job.requeue"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether a subject holding role may perform action on
// object inside a tenant.
type Service interface {
	Authorize(ctx context.Context, subject, tenantID, role, object, action string) error
}
