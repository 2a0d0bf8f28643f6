package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey stores a hashed API credential owned by a tenant.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TenantID   string       `gorm:"column:tenant_id;type:text;not null;index:ix_api_keys_tenant"`
	Name       string       `gorm:"type:text;not null"`
	KeyHash    string       `gorm:"column:key_hash;type:varchar(64);not null;uniqueIndex:ux_api_keys_key_hash"`
	KeyPrefix  string       `gorm:"column:key_prefix;type:varchar(12);not null"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	CreatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Credential is the identity an API key resolves to.
type Credential struct {
	TenantID string
	KeyID    snowflake.ID
}
