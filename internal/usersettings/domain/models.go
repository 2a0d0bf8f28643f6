package domain

import "time"

// UserSettings holds per-tenant notification preferences. A missing row
// means both switches are on.
type UserSettings struct {
	TenantID     string    `gorm:"column:tenant_id;type:varchar(255);primaryKey" json:"-"`
	PushEnabled  bool      `gorm:"column:push_enabled;not null" json:"pushEnabled"`
	SoundEnabled bool      `gorm:"column:sound_enabled;not null" json:"soundEnabled"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"not null" json:"updatedAt"`
}

func (UserSettings) TableName() string { return "user_settings" }

func Defaults(tenantID string) UserSettings {
	return UserSettings{TenantID: tenantID, PushEnabled: true, SoundEnabled: true}
}
