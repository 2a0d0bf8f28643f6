package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const jobColumns = `id, tenant_id, source_event_id, channel, dedupe_key, payload, status, run_at, attempts, last_error, claimed_at, created_at, updated_at`

type repo struct{}

func Provide() jobdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, job *jobdomain.NotificationJob) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*jobdomain.NotificationJob, error) {
	var job jobdomain.NotificationJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM notification_jobs WHERE dedupe_key = ?`,
		dedupeKey,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*jobdomain.NotificationJob, error) {
	var job jobdomain.NotificationJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM notification_jobs WHERE id = ?`,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]jobdomain.NotificationJob, error) {
	var jobs []jobdomain.NotificationJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE status = ? AND run_at <= ?
		 ORDER BY run_at ASC, id ASC
		 LIMIT ?`,
		jobdomain.JobStatusPending,
		now,
		limit,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Claim moves a pending job to in_progress. Only one caller can observe an
// affected row for a given job.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		jobdomain.JobStatusInProgress,
		now,
		now,
		id,
		jobdomain.JobStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, attempts = attempts + 1, last_error = NULL, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		jobdomain.JobStatusSuccess,
		now,
		id,
		jobdomain.JobStatusInProgress,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, attempts = attempts + 1, last_error = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		jobdomain.JobStatusFailed,
		lastError,
		now,
		id,
		jobdomain.JobStatusInProgress,
	).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, nextRunAt, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, attempts = attempts + 1, last_error = ?, run_at = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		jobdomain.JobStatusPending,
		lastError,
		nextRunAt,
		now,
		id,
		jobdomain.JobStatusInProgress,
	).Error
}

func (r *repo) RecoverStale(ctx context.Context, db *gorm.DB, claimedBefore, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, claimed_at = NULL, updated_at = ?
		 WHERE status = ? AND claimed_at < ?`,
		jobdomain.JobStatusPending,
		now,
		jobdomain.JobStatusInProgress,
		claimedBefore,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status jobdomain.JobStatus, limit int) ([]jobdomain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var jobs []jobdomain.NotificationJob
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, run_at = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		jobdomain.JobStatusPending,
		now,
		now,
		id,
		jobdomain.JobStatusFailed,
	)
	return res.RowsAffected, res.Error
}
