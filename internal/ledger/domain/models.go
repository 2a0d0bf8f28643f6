package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusProcessed EventStatus = "processed"
)

const (
	ProviderTask  = "task"
	ProviderAgent = "agent"
)

// InboundEvent is one accepted webhook delivery, unique per
// (provider, provider_event_id).
type InboundEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_inbound_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:varchar(255);not null;uniqueIndex:ux_inbound_events_provider_event,priority:2"`
	TenantID        string         `gorm:"column:tenant_id;type:text;not null;default:''"`
	Payload         datatypes.JSON `gorm:"type:json"`
	Status          EventStatus    `gorm:"type:varchar(16);not null"`
	ReceivedAt      time.Time      `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
}

func (InboundEvent) TableName() string { return "inbound_events" }

// RecordResult reports whether RecordIfNew inserted the row.
type RecordResult struct {
	Event *InboundEvent
	IsNew bool
}
