package repository

import (
	"context"

	settingsdomain "github.com/smallbiznis/pushrelay/internal/usersettings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() settingsdomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID string) (*settingsdomain.UserSettings, error) {
	var settings settingsdomain.UserSettings
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, push_enabled, sound_enabled, created_at, updated_at
		 FROM user_settings
		 WHERE tenant_id = ?`,
		tenantID,
	).Scan(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.TenantID == "" {
		return nil, nil
	}
	return &settings, nil
}

// Upsert inserts settings or, for an existing row, overwrites only columns.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, settings *settingsdomain.UserSettings, columns []string) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
		}).
		Create(settings).Error
}
