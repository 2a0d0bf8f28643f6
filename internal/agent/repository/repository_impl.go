package repository

import (
	"context"

	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const agentColumns = `id, tenant_id, name, slug, secret_hash, status, created_at, updated_at`

type repo struct{}

func Provide() agentdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, agent *agentdomain.Agent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "slug"}},
			DoNothing: true,
		}).
		Create(agent)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*agentdomain.Agent, error) {
	var agent agentdomain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`,
		id,
	).Scan(&agent).Error
	if err != nil {
		return nil, err
	}
	if agent.ID == "" {
		return nil, nil
	}
	return &agent, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID string) ([]agentdomain.Agent, error) {
	var agents []agentdomain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? ORDER BY created_at DESC, name ASC`,
		tenantID,
	).Scan(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, id string) (int64, error) {
	var affected int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`DELETE FROM agents WHERE id = ? AND tenant_id = ?`, id, tenantID)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected == 0 {
			return nil
		}
		return tx.Exec(`DELETE FROM agent_events WHERE agent_id = ?`, id).Error
	})
	return affected, err
}

func (r *repo) InsertEventIfAbsent(ctx context.Context, db *gorm.DB, event *agentdomain.AgentEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
