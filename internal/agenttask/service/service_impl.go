package service

import (
	"context"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	"github.com/smallbiznis/pushrelay/internal/clock"
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
	Repo  taskdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  taskdomain.Repository
}

func New(p Params) taskdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("agenttask.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, req taskdomain.RecordRequest) (*taskdomain.AgentTask, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, taskdomain.ErrInvalidTenant
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, taskdomain.ErrInvalidTitle
	}
	status := req.Status
	if status == "" {
		status = taskdomain.TaskStatusSuccess
	}
	if !status.Valid() {
		return nil, taskdomain.ErrInvalidStatus
	}
	if req.Duration != nil && (math.IsNaN(*req.Duration) || math.IsInf(*req.Duration, 0) || *req.Duration < 0) {
		return nil, taskdomain.ErrInvalidDuration
	}

	task := &taskdomain.AgentTask{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		APIKeyID:  req.APIKeyID,
		EventID:   req.EventID,
		Title:     title,
		Status:    status,
		Duration:  req.Duration,
		Source:    trimmed(req.Source),
		MachineID: trimmed(req.MachineID),
		Metadata:  req.Metadata,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, tx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) FindByEventID(ctx context.Context, eventID snowflake.ID) (*taskdomain.AgentTask, error) {
	task, err := s.repo.FindByEventID(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, taskdomain.ErrNotFound
	}
	return task, nil
}

func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]taskdomain.AgentTask, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, taskdomain.ErrInvalidTenant
	}
	return s.repo.List(ctx, s.db, tenantID, clampLimit(limit))
}

func (s *Service) Count(ctx context.Context, tenantID string) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, taskdomain.ErrInvalidTenant
	}
	return s.repo.Count(ctx, s.db, tenantID)
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return taskdomain.ErrInvalidTenant
	}
	taskID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || taskID == 0 {
		return taskdomain.ErrInvalidTaskID
	}
	affected, err := s.repo.Delete(ctx, s.db, tenantID, taskID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return taskdomain.ErrNotFound
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, tenantID string) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, taskdomain.ErrInvalidTenant
	}
	removed, err := s.repo.Clear(ctx, s.db, tenantID)
	if err != nil {
		return 0, err
	}
	s.log.Info("task history cleared", zap.String("tenant_id", tenantID), zap.Int64("removed", removed))
	return removed, nil
}

// clampLimit keeps list sizes within 1..MaxListLimit, defaulting when unset.
func clampLimit(limit int) int {
	if limit <= 0 {
		return taskdomain.DefaultListLimit
	}
	if limit > taskdomain.MaxListLimit {
		return taskdomain.MaxListLimit
	}
	return limit
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	if out == "" {
		return nil
	}
	return &out
}
