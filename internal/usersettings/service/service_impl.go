package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/pushrelay/internal/clock"
	settingsdomain "github.com/smallbiznis/pushrelay/internal/usersettings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  settingsdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  settingsdomain.Repository
}

func New(p Params) settingsdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usersettings.service"),
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, tenantID string) (*settingsdomain.UserSettings, error) {
	return s.get(ctx, s.db, tenantID)
}

func (s *Service) get(ctx context.Context, db *gorm.DB, tenantID string) (*settingsdomain.UserSettings, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, settingsdomain.ErrInvalidTenant
	}
	settings, err := s.repo.Find(ctx, db, tenantID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		defaults := settingsdomain.Defaults(tenantID)
		return &defaults, nil
	}
	return settings, nil
}

func (s *Service) Update(ctx context.Context, tenantID string, req settingsdomain.UpdateRequest) (*settingsdomain.UserSettings, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, settingsdomain.ErrInvalidTenant
	}

	now := s.clock.Now().UTC()
	row := settingsdomain.Defaults(tenantID)
	row.CreatedAt = now
	row.UpdatedAt = now

	columns := make([]string, 0, 2)
	if req.PushEnabled != nil {
		row.PushEnabled = *req.PushEnabled
		columns = append(columns, "push_enabled")
	}
	if req.SoundEnabled != nil {
		row.SoundEnabled = *req.SoundEnabled
		columns = append(columns, "sound_enabled")
	}

	var result *settingsdomain.UserSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Upsert(ctx, tx, &row, columns); err != nil {
			return err
		}
		var err error
		result, err = s.get(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user settings updated",
		zap.String("tenant_id", tenantID),
		zap.Bool("push_enabled", result.PushEnabled),
		zap.Bool("sound_enabled", result.SoundEnabled),
	)
	return result, nil
}

// PushEnabledTx reads the push switch inside the caller's transaction.
func (s *Service) PushEnabledTx(ctx context.Context, tx *gorm.DB, tenantID string) (bool, error) {
	settings, err := s.get(ctx, tx, tenantID)
	if err != nil {
		return false, err
	}
	return settings.PushEnabled, nil
}
