package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/santhosh-tekuri/jsonschema/v6"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	secretLength   = 32
	slugAttempts   = 3
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Repo   agentdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	secrets config.AgentWebhookConfig
	repo    agentdomain.Repository
	schema  *jsonschema.Schema
}

func New(p Params) (agentdomain.Service, error) {
	schema, err := compileWebhookSchema()
	if err != nil {
		return nil, err
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("agent.service"),
		genID:   p.GenID,
		clock:   clk,
		secrets: p.Config.AgentWebhook,
		repo:    p.Repo,
		schema:  schema,
	}, nil
}

// Create registers an agent and returns its webhook secret once; only the
// bcrypt hash is stored.
func (s *Service) Create(ctx context.Context, tenantID string, req agentdomain.CreateRequest) (*agentdomain.CreateResponse, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, agentdomain.ErrInvalidTenant
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, agentdomain.ErrInvalidName
	}
	base := slug.Make(name)
	if base == "" {
		base = "agent"
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash agent secret: %w", err)
	}
	hashed := string(hash)

	now := s.clock.Now().UTC()
	agent := &agentdomain.Agent{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Name:       name,
		SecretHash: &hashed,
		Status:     agentdomain.AgentStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for attempt := 0; attempt < slugAttempts; attempt++ {
		agent.Slug = base
		if attempt > 0 {
			agent.Slug = fmt.Sprintf("%s-%s", base, agent.ID[:4+attempt*2])
		}
		inserted, err := s.repo.InsertIfAbsent(ctx, s.db, agent)
		if err != nil {
			return nil, err
		}
		if inserted {
			s.log.Info("agent created",
				zap.String("tenant_id", tenantID),
				zap.String("agent_id", agent.ID),
				zap.String("slug", agent.Slug),
			)
			return &agentdomain.CreateResponse{Agent: agent, Secret: secret}, nil
		}
	}
	return nil, agentdomain.ErrSlugExhausted
}

func (s *Service) Get(ctx context.Context, id string) (*agentdomain.Agent, error) {
	agentID, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	agent, err := s.repo.FindByID(ctx, s.db, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, agentdomain.ErrNotFound
	}
	return agent, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]agentdomain.Agent, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, agentdomain.ErrInvalidTenant
	}
	return s.repo.List(ctx, s.db, tenantID)
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return agentdomain.ErrInvalidTenant
	}
	agentID, err := normalizeID(id)
	if err != nil {
		return err
	}
	affected, err := s.repo.Delete(ctx, s.db, tenantID, agentID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return agentdomain.ErrNotFound
	}
	s.log.Info("agent deleted", zap.String("tenant_id", tenantID), zap.String("agent_id", agentID))
	return nil
}

func (s *Service) VerifySecret(agentID string, agent *agentdomain.Agent, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return agentdomain.ErrSecretMissing
	}

	if agent != nil && agent.SecretHash != nil && *agent.SecretHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(*agent.SecretHash), []byte(provided)); err != nil {
			return agentdomain.ErrInvalidSecret
		}
		return nil
	}

	expected := s.secrets.SecretFor(agentID)
	if expected == "" {
		return agentdomain.ErrSecretNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return agentdomain.ErrInvalidSecret
	}
	return nil
}

func (s *Service) ParsePayload(body []byte) (*agentdomain.WebhookPayload, error) {
	return parsePayload(s.schema, body)
}

func (s *Service) RecordEventTx(ctx context.Context, tx *gorm.DB, agentID string, payload *agentdomain.WebhookPayload) (bool, error) {
	if payload == nil {
		return false, agentdomain.ErrInvalidPayload
	}
	event := &agentdomain.AgentEvent{
		ID:              s.genID.Generate(),
		AgentID:         agentID,
		EventType:       payload.EventType,
		ProviderEventID: payload.ProviderEventID,
		Payload:         datatypes.JSON(payload.Raw),
		CreatedAt:       s.clock.Now().UTC(),
	}
	return s.repo.InsertEventIfAbsent(ctx, tx, event)
}

func normalizeID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", agentdomain.ErrInvalidAgentID
	}
	return parsed.String(), nil
}

func generateSecret() (string, error) {
	var b strings.Builder
	b.Grow(len(agentdomain.SecretPrefix) + secretLength)
	b.WriteString(agentdomain.SecretPrefix)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := 0; i < secretLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(secretAlphabet[n.Int64()])
	}
	return b.String(), nil
}
