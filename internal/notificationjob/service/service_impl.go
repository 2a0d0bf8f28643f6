package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  jobdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  jobdomain.Repository
}

func New(p Params) jobdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notificationjob.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) EnqueueIfNew(ctx context.Context, req jobdomain.EnqueueRequest) (*jobdomain.EnqueueResult, error) {
	return s.EnqueueIfNewTx(ctx, s.db, req)
}

func (s *Service) EnqueueIfNewTx(ctx context.Context, tx *gorm.DB, req jobdomain.EnqueueRequest) (*jobdomain.EnqueueResult, error) {
	dedupeKey := strings.TrimSpace(req.DedupeKey)
	if dedupeKey == "" {
		return nil, jobdomain.ErrInvalidDedupeKey
	}
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		return nil, jobdomain.ErrInvalidChannel
	}

	now := s.clock.Now().UTC()
	runAt := req.RunAt.UTC()
	if req.RunAt.IsZero() {
		runAt = now
	}

	job := &jobdomain.NotificationJob{
		ID:            s.genID.Generate(),
		TenantID:      strings.TrimSpace(req.TenantID),
		SourceEventID: req.SourceEventID,
		Channel:       channel,
		DedupeKey:     dedupeKey,
		Payload:       req.Payload,
		Status:        jobdomain.JobStatusPending,
		RunAt:         runAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, tx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue notification job: %w", err)
	}
	if inserted {
		s.log.Info("notification job enqueued",
			zap.String("job_id", job.ID.String()),
			zap.String("tenant_id", job.TenantID),
			zap.String("channel", channel),
		)
		return &jobdomain.EnqueueResult{Job: job, IsNew: true}, nil
	}

	existing, err := s.repo.FindByDedupeKey(ctx, tx, dedupeKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("notification job conflict without existing row")
	}
	return &jobdomain.EnqueueResult{Job: existing, IsNew: false}, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]jobdomain.NotificationJob, error) {
	if limit <= 0 {
		limit = jobdomain.DefaultListLimit
	}
	return s.repo.ListDue(ctx, s.db, now.UTC(), limit)
}

func (s *Service) Claim(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	if id == 0 {
		return false, jobdomain.ErrInvalidJobID
	}
	return s.repo.Claim(ctx, s.db, id, now.UTC())
}

func (s *Service) MarkSuccess(ctx context.Context, id snowflake.ID) error {
	return s.repo.MarkSuccess(ctx, s.db, id, s.clock.Now().UTC())
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, cause string) error {
	return s.repo.MarkFailed(ctx, s.db, id, truncateError(cause), s.clock.Now().UTC())
}

func (s *Service) MarkRetry(ctx context.Context, id snowflake.ID, cause string, nextRunAt time.Time) error {
	return s.repo.MarkRetry(ctx, s.db, id, truncateError(cause), nextRunAt.UTC(), s.clock.Now().UTC())
}

// RecoverStale returns jobs whose claim predates claimedBefore to pending so
// a crashed dispatcher cannot strand them.
func (s *Service) RecoverStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	recovered, err := s.repo.RecoverStale(ctx, s.db, claimedBefore.UTC(), s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		s.log.Warn("recovered stale notification jobs", zap.Int64("count", recovered))
	}
	return recovered, nil
}

func (s *Service) List(ctx context.Context, req jobdomain.ListRequest) ([]jobdomain.NotificationJob, error) {
	status := jobdomain.JobStatus(strings.TrimSpace(req.Status))
	if status != "" && !status.Valid() {
		return nil, jobdomain.ErrInvalidStatus
	}
	limit := req.Limit
	if limit <= 0 {
		limit = jobdomain.DefaultListLimit
	}
	if limit > jobdomain.MaxListLimit {
		limit = jobdomain.MaxListLimit
	}
	return s.repo.List(ctx, s.db, status, limit)
}

func (s *Service) Requeue(ctx context.Context, id string) (*jobdomain.NotificationJob, error) {
	jobID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || jobID == 0 {
		return nil, jobdomain.ErrInvalidJobID
	}

	var result *jobdomain.NotificationJob
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return jobdomain.ErrNotFound
		}
		if job.Status != jobdomain.JobStatusFailed {
			return jobdomain.ErrNotRequeueable
		}

		affected, err := s.repo.Requeue(ctx, tx, jobID, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if affected == 0 {
			return jobdomain.ErrNotRequeueable
		}

		result, err = s.repo.FindByID(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("notification job requeued", zap.String("job_id", jobID.String()))
	return result, nil
}

func truncateError(cause string) string {
	cause = strings.TrimSpace(cause)
	if len(cause) > jobdomain.MaxErrorLength {
		return cause[:jobdomain.MaxErrorLength]
	}
	return cause
}
