package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	"gorm.io/gorm"
)

const taskColumns = `id, tenant_id, api_key_id, event_id, title, status, duration, source, machine_id, metadata, created_at`

type repo struct{}

func Provide() taskdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, task *taskdomain.AgentTask) error {
	return db.WithContext(ctx).Create(task).Error
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*taskdomain.AgentTask, error) {
	var task taskdomain.AgentTask
	err := db.WithContext(ctx).Raw(
		`SELECT `+taskColumns+` FROM agent_tasks WHERE event_id = ?`,
		eventID,
	).Scan(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == 0 {
		return nil, nil
	}
	return &task, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID string, limit int) ([]taskdomain.AgentTask, error) {
	var tasks []taskdomain.AgentTask
	err := db.WithContext(ctx).Raw(
		`SELECT `+taskColumns+`
		 FROM agent_tasks
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		tenantID,
		limit,
	).Scan(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM agent_tasks WHERE tenant_id = ?`,
		tenantID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM agent_tasks WHERE id = ? AND tenant_id = ?`,
		id,
		tenantID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Clear(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM agent_tasks WHERE tenant_id = ?`, tenantID)
	return res.RowsAffected, res.Error
}
