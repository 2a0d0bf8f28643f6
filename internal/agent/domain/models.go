package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDisabled AgentStatus = "disabled"
)

// Agent is an external process that reports events through its own webhook
// URL. TenantID may be empty for agents provisioned outside the API.
type Agent struct {
	ID         string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID   string      `gorm:"column:tenant_id;type:varchar(255);not null;default:'';uniqueIndex:ux_agents_tenant_slug,priority:1" json:"-"`
	Name       string      `gorm:"type:varchar(100);not null" json:"name"`
	Slug       string      `gorm:"type:varchar(120);not null;uniqueIndex:ux_agents_tenant_slug,priority:2" json:"slug"`
	SecretHash *string     `gorm:"column:secret_hash;type:text" json:"-"`
	Status     AgentStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	CreatedAt  time.Time   `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time   `gorm:"not null" json:"updatedAt"`
}

func (Agent) TableName() string { return "agents" }

type AgentEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	AgentID         string         `gorm:"column:agent_id;type:varchar(36);not null;uniqueIndex:ux_agent_events_agent_provider_event,priority:1" json:"agentId"`
	EventType       string         `gorm:"column:event_type;type:varchar(255);not null" json:"eventType"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:varchar(255);not null;uniqueIndex:ux_agent_events_agent_provider_event,priority:2" json:"providerEventId"`
	Payload         datatypes.JSON `gorm:"type:json;not null" json:"payload"`
	CreatedAt       time.Time      `gorm:"not null" json:"createdAt"`
}

func (AgentEvent) TableName() string { return "agent_events" }

// WebhookPayload is the validated body of an agent webhook. Raw keeps the
// original document including extra properties.
type WebhookPayload struct {
	EventType       string `json:"event_type"`
	ProviderEventID string `json:"provider_event_id"`
	Message         string `json:"message"`
	DedupeKey       string `json:"dedupe_key,omitempty"`
	Raw             []byte `json:"-"`
}

// NotificationKey is the client-side idempotency key of the event.
func (p WebhookPayload) NotificationKey() string {
	if p.DedupeKey != "" {
		return p.DedupeKey
	}
	return p.ProviderEventID
}
