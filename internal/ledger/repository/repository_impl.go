package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/pushrelay/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, event *ledgerdomain.InboundEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByProviderEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*ledgerdomain.InboundEvent, error) {
	var event ledgerdomain.InboundEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, tenant_id, payload, status, received_at, processed_at
		 FROM inbound_events WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE inbound_events SET status = ?, processed_at = ? WHERE id = ?`,
		ledgerdomain.EventStatusProcessed,
		at,
		id,
	).Error
}
