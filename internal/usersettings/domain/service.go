package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, tenantID string) (*UserSettings, error)
	Upsert(ctx context.Context, db *gorm.DB, settings *UserSettings, columns []string) error
}

type Service interface {
	Get(ctx context.Context, tenantID string) (*UserSettings, error)
	Update(ctx context.Context, tenantID string, req UpdateRequest) (*UserSettings, error)
	PushEnabledTx(ctx context.Context, tx *gorm.DB, tenantID string) (bool, error)
}

// UpdateRequest applies only the switches that are present.
type UpdateRequest struct {
	PushEnabled  *bool `json:"pushEnabled"`
	SoundEnabled *bool `json:"soundEnabled"`
}

var ErrInvalidTenant = errors.New("invalid_tenant")
