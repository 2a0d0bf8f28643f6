package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
	MaxErrorLength   = 1000
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, job *NotificationJob) (bool, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*NotificationJob, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*NotificationJob, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]NotificationJob, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error
	MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, nextRunAt, now time.Time) error
	RecoverStale(ctx context.Context, db *gorm.DB, claimedBefore, now time.Time) (int64, error)
	List(ctx context.Context, db *gorm.DB, status JobStatus, limit int) ([]NotificationJob, error)
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error)
}

type Service interface {
	EnqueueIfNew(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error)
	EnqueueIfNewTx(ctx context.Context, tx *gorm.DB, req EnqueueRequest) (*EnqueueResult, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]NotificationJob, error)
	Claim(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
	MarkSuccess(ctx context.Context, id snowflake.ID) error
	MarkFailed(ctx context.Context, id snowflake.ID, cause string) error
	MarkRetry(ctx context.Context, id snowflake.ID, cause string, nextRunAt time.Time) error
	RecoverStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	List(ctx context.Context, req ListRequest) ([]NotificationJob, error)
	Requeue(ctx context.Context, id string) (*NotificationJob, error)
}

type EnqueueRequest struct {
	TenantID      string
	SourceEventID *snowflake.ID
	Channel       string
	DedupeKey     string
	Payload       datatypes.JSON
	// RunAt defaults to now.
	RunAt time.Time
}

type EnqueueResult struct {
	Job   *NotificationJob
	IsNew bool
}

type ListRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

var (
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
	ErrInvalidChannel   = errors.New("invalid_channel")
	ErrInvalidJobID     = errors.New("invalid_job_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrNotFound         = errors.New("not_found")
	ErrNotRequeueable   = errors.New("job_not_failed")
)
