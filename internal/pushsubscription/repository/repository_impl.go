package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const subscriptionColumns = `id, tenant_id, endpoint, p256dh, auth, user_agent, enabled, created_at, updated_at`

type repo struct{}

func Provide() subdomain.Repository {
	return &repo{}
}

// Upsert inserts or refreshes the (tenant_id, endpoint) row in one statement
// and always re-enables it.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *subdomain.Subscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_agent", "enabled", "updated_at"}),
		}).
		Create(sub).Error
}

func (r *repo) FindByEndpoint(ctx context.Context, db *gorm.DB, tenantID, endpoint string) (*subdomain.Subscription, error) {
	var sub subdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE tenant_id = ? AND endpoint = ?`,
		tenantID,
		endpoint,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) ListEnabled(ctx context.Context, db *gorm.DB, tenantID string) ([]subdomain.Subscription, error) {
	var subs []subdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM push_subscriptions
		 WHERE tenant_id = ? AND enabled = ?
		 ORDER BY id ASC`,
		tenantID,
		true,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID string) ([]subdomain.Subscription, error) {
	var subs []subdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE tenant_id = ? ORDER BY created_at DESC, id DESC`,
		tenantID,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) Disable(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE push_subscriptions SET enabled = ?, updated_at = ? WHERE id = ?`,
		false,
		now,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, endpoint string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM push_subscriptions WHERE tenant_id = ? AND endpoint = ?`,
		tenantID,
		endpoint,
	)
	return res.RowsAffected, res.Error
}
