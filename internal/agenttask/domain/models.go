package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TaskStatus string

const (
	TaskStatusSuccess   TaskStatus = "success"
	TaskStatusFailure   TaskStatus = "failure"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AgentTask is the history row written for every accepted task webhook.
type AgentTask struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID  string         `gorm:"column:tenant_id;type:varchar(255);not null;index:ix_agent_tasks_tenant_created,priority:1" json:"-"`
	APIKeyID  snowflake.ID   `gorm:"column:api_key_id;not null" json:"apiKeyId"`
	EventID   snowflake.ID   `gorm:"column:event_id;not null;uniqueIndex:ux_agent_tasks_event" json:"eventId"`
	Title     string         `gorm:"type:text;not null" json:"title"`
	Status    TaskStatus     `gorm:"type:varchar(16);not null" json:"status"`
	Duration  *float64       `gorm:"column:duration" json:"duration,omitempty"`
	Source    *string        `gorm:"type:varchar(255)" json:"source,omitempty"`
	MachineID *string        `gorm:"column:machine_id;type:varchar(255)" json:"machineId,omitempty"`
	Metadata  datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index:ix_agent_tasks_tenant_created,priority:2" json:"createdAt"`
}

func (AgentTask) TableName() string { return "agent_tasks" }
