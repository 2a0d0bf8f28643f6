package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/pushrelay/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns the newest entries first. Snowflake ids break ties between
// entries written in the same instant.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := db.WithContext(ctx).
		Scopes(
			equals("tenant_id", filter.TenantID),
			equals("action", filter.Action),
			equals("target_type", filter.TargetType),
		).
		Order("created_at desc, id desc").
		Limit(filter.Limit).
		Find(&logs).Error
	return logs, err
}

// equals filters on column only when value is set.
func equals(column, value string) func(*gorm.DB) *gorm.DB {
	value = strings.TrimSpace(value)
	return func(db *gorm.DB) *gorm.DB {
		if value == "" {
			return db
		}
		return db.Where(column+" = ?", value)
	}
}
