package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog records one management action taken inside a tenant.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID   string            `gorm:"column:tenant_id;type:varchar(255);not null;index:ix_audit_logs_tenant_created,priority:1" json:"-"`
	ActorType  string            `gorm:"column:actor_type;type:varchar(32);not null" json:"actorType"`
	ActorID    *string           `gorm:"column:actor_id;type:varchar(255)" json:"actorId,omitempty"`
	Action     string            `gorm:"type:varchar(64);not null" json:"action"`
	TargetType string            `gorm:"column:target_type;type:varchar(64);not null" json:"targetType"`
	TargetID   *string           `gorm:"column:target_id;type:varchar(255)" json:"targetId,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address;type:varchar(64)" json:"ipAddress,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"userAgent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index:ix_audit_logs_tenant_created,priority:2" json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }
