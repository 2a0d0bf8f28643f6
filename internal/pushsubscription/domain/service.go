package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByEndpoint(ctx context.Context, db *gorm.DB, tenantID, endpoint string) (*Subscription, error)
	ListEnabled(ctx context.Context, db *gorm.DB, tenantID string) ([]Subscription, error)
	List(ctx context.Context, db *gorm.DB, tenantID string) ([]Subscription, error)
	Disable(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	Delete(ctx context.Context, db *gorm.DB, tenantID, endpoint string) (int64, error)
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (snowflake.ID, error)
	ListEnabled(ctx context.Context, tenantID string) ([]Subscription, error)
	List(ctx context.Context, tenantID string) ([]Subscription, error)
	Disable(ctx context.Context, id snowflake.ID) error
	Delete(ctx context.Context, tenantID, endpoint string) error
}

type UpsertRequest struct {
	TenantID  string  `json:"-"`
	Endpoint  string  `json:"endpoint" binding:"required,url,startswith=https://,max=2048"`
	P256dh    string  `json:"p256dh" binding:"required"`
	Auth      string  `json:"auth" binding:"required"`
	UserAgent *string `json:"userAgent" binding:"omitempty,max=512"`
}

type DeleteRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidEndpoint = errors.New("invalid_endpoint")
	ErrInvalidKeys     = errors.New("invalid_keys")
	ErrNotFound        = errors.New("not_found")
)
