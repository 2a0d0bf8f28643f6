package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription is one browser push endpoint registered by a tenant.
type Subscription struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  string       `gorm:"column:tenant_id;type:varchar(255);not null;uniqueIndex:ux_push_subscriptions_tenant_endpoint,priority:1" json:"-"`
	Endpoint  string       `gorm:"type:varchar(2048);not null;uniqueIndex:ux_push_subscriptions_tenant_endpoint,priority:2" json:"endpoint"`
	P256dh    string       `gorm:"column:p256dh;type:text;not null" json:"-"`
	Auth      string       `gorm:"column:auth;type:text;not null" json:"-"`
	UserAgent *string      `gorm:"column:user_agent;type:text" json:"userAgent,omitempty"`
	Enabled   bool         `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time    `gorm:"not null" json:"updatedAt"`
}

func (Subscription) TableName() string { return "push_subscriptions" }
