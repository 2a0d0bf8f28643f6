package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	ledgerdomain "github.com/smallbiznis/pushrelay/internal/ledger/domain"
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
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func New(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) RecordIfNew(ctx context.Context, req ledgerdomain.RecordRequest) (*ledgerdomain.RecordResult, error) {
	return s.RecordIfNewTx(ctx, s.db, req)
}

// RecordIfNewTx inserts the event unless its provider key already exists, in
// which case the stored record is returned. The insert is a single
// conflict-ignoring statement so concurrent deliveries cannot both win.
func (s *Service) RecordIfNewTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.RecordRequest) (*ledgerdomain.RecordResult, error) {
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return nil, ledgerdomain.ErrInvalidProvider
	}
	eventID := strings.TrimSpace(req.ProviderEventID)
	if eventID == "" {
		return nil, ledgerdomain.ErrInvalidEventID
	}

	event := &ledgerdomain.InboundEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: eventID,
		TenantID:        strings.TrimSpace(req.TenantID),
		Payload:         req.Payload,
		Status:          ledgerdomain.EventStatusReceived,
		ReceivedAt:      s.clock.Now().UTC(),
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, tx, event)
	if err != nil {
		return nil, fmt.Errorf("record inbound event: %w", err)
	}
	if inserted {
		return &ledgerdomain.RecordResult{Event: event, IsNew: true}, nil
	}

	existing, err := s.repo.FindByProviderEvent(ctx, tx, provider, eventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("inbound event conflict without existing row")
	}

	s.log.Info("duplicate inbound event",
		zap.String("provider", provider),
		zap.String("provider_event_id", eventID),
		zap.String("event_id", existing.ID.String()),
	)
	return &ledgerdomain.RecordResult{Event: existing, IsNew: false}, nil
}

func (s *Service) MarkProcessed(ctx context.Context, eventID snowflake.ID, at time.Time) error {
	return s.MarkProcessedTx(ctx, s.db, eventID, at)
}

func (s *Service) MarkProcessedTx(ctx context.Context, tx *gorm.DB, eventID snowflake.ID, at time.Time) error {
	if eventID == 0 {
		return ledgerdomain.ErrInvalidEventID
	}
	return s.repo.MarkProcessed(ctx, tx, eventID, at.UTC())
}
