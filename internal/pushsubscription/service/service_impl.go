package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
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
	Repo  subdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  subdomain.Repository
}

func New(p Params) subdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pushsubscription.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

// Upsert registers an endpoint for the tenant, refreshing the keys and
// re-enabling it when the endpoint is already known.
func (s *Service) Upsert(ctx context.Context, req subdomain.UpsertRequest) (snowflake.ID, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return 0, subdomain.ErrInvalidTenant
	}
	endpoint, err := normalizeEndpoint(req.Endpoint)
	if err != nil {
		return 0, err
	}
	p256dh := strings.TrimSpace(req.P256dh)
	auth := strings.TrimSpace(req.Auth)
	if p256dh == "" || auth == "" {
		return 0, subdomain.ErrInvalidKeys
	}

	var userAgent *string
	if req.UserAgent != nil {
		if ua := strings.TrimSpace(*req.UserAgent); ua != "" {
			userAgent = &ua
		}
	}

	now := s.clock.Now().UTC()
	sub := &subdomain.Subscription{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		UserAgent: userAgent,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var id snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Upsert(ctx, tx, sub); err != nil {
			return fmt.Errorf("upsert push subscription: %w", err)
		}
		stored, err := s.repo.FindByEndpoint(ctx, tx, tenantID, endpoint)
		if err != nil {
			return err
		}
		if stored == nil {
			return subdomain.ErrNotFound
		}
		id = stored.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("push subscription saved",
		zap.String("tenant_id", tenantID),
		zap.String("subscription_id", id.String()),
	)
	return id, nil
}

func (s *Service) ListEnabled(ctx context.Context, tenantID string) ([]subdomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, subdomain.ErrInvalidTenant
	}
	return s.repo.ListEnabled(ctx, s.db, tenantID)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]subdomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, subdomain.ErrInvalidTenant
	}
	return s.repo.List(ctx, s.db, tenantID)
}

// Disable is one-way; only a fresh Upsert from the browser re-enables.
func (s *Service) Disable(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return subdomain.ErrNotFound
	}
	if err := s.repo.Disable(ctx, s.db, id, s.clock.Now().UTC()); err != nil {
		return err
	}
	s.log.Info("push subscription disabled", zap.String("subscription_id", id.String()))
	return nil
}

func (s *Service) Delete(ctx context.Context, tenantID, endpoint string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return subdomain.ErrInvalidTenant
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return subdomain.ErrInvalidEndpoint
	}
	affected, err := s.repo.Delete(ctx, s.db, tenantID, endpoint)
	if err != nil {
		return err
	}
	if affected == 0 {
		return subdomain.ErrNotFound
	}
	return nil
}

func normalizeEndpoint(raw string) (string, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", subdomain.ErrInvalidEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || !parsed.IsAbs() || parsed.Scheme != "https" || parsed.Host == "" {
		return "", subdomain.ErrInvalidEndpoint
	}
	return endpoint, nil
}
