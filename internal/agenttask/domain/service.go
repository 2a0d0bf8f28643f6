package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, task *AgentTask) error
	FindByEventID(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*AgentTask, error)
	List(ctx context.Context, db *gorm.DB, tenantID string, limit int) ([]AgentTask, error)
	Count(ctx context.Context, db *gorm.DB, tenantID string) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (int64, error)
	Clear(ctx context.Context, db *gorm.DB, tenantID string) (int64, error)
}

type Service interface {
	RecordTx(ctx context.Context, tx *gorm.DB, req RecordRequest) (*AgentTask, error)
	FindByEventID(ctx context.Context, eventID snowflake.ID) (*AgentTask, error)
	List(ctx context.Context, tenantID string, limit int) ([]AgentTask, error)
	Count(ctx context.Context, tenantID string) (int64, error)
	Delete(ctx context.Context, tenantID, id string) error
	Clear(ctx context.Context, tenantID string) (int64, error)
}

type RecordRequest struct {
	TenantID  string
	APIKeyID  snowflake.ID
	EventID   snowflake.ID
	Title     string
	Status    TaskStatus
	Duration  *float64
	Source    *string
	MachineID *string
	Metadata  datatypes.JSON
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidTitle    = errors.New("invalid_title")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidTaskID   = errors.New("invalid_task_id")
	ErrInvalidDuration = errors.New("invalid_duration")
	ErrNotFound        = errors.New("not_found")
)
