package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusSuccess, JobStatusFailed:
		return true
	default:
		return false
	}
}

const (
	ChannelTaskWebhook  = "task_webhook"
	ChannelAgentWebhook = "agent_webhook"
	ChannelTest         = "test"
)

// NotificationJob is a durable unit of push work. Rows are never deleted.
type NotificationJob struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID      string         `gorm:"column:tenant_id;type:text;not null;default:''" json:"tenantId"`
	SourceEventID *snowflake.ID  `gorm:"column:source_event_id" json:"sourceEventId,omitempty"`
	Channel       string         `gorm:"type:varchar(32);not null" json:"channel"`
	DedupeKey     string         `gorm:"column:dedupe_key;type:varchar(512);not null;uniqueIndex:ux_notification_jobs_dedupe_key" json:"dedupeKey"`
	Payload       datatypes.JSON `gorm:"type:json" json:"payload"`
	Status        JobStatus      `gorm:"type:varchar(16);not null;index:ix_notification_jobs_status_run_at,priority:1" json:"status"`
	RunAt         time.Time      `gorm:"column:run_at;not null;index:ix_notification_jobs_status_run_at,priority:2" json:"runAt"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastError     *string        `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	ClaimedAt     *time.Time     `gorm:"column:claimed_at" json:"claimedAt,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updatedAt"`
}

func (NotificationJob) TableName() string { return "notification_jobs" }
