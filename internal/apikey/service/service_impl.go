package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	touchTimeout = 5 * time.Second
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock

	// touched is signalled after each lastUsedAt write; tests hook it.
	touched func(snowflake.ID, error)
}

func New(p Params) apikeydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: clk,
	}
}

func (s *Service) Issue(ctx context.Context, tenantID, name string) (*apikeydomain.SecretResponse, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, apikeydomain.ErrInvalidTenant
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	plain, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   apikeydomain.HashAPIKey(plain),
		KeyPrefix: plain[:apikeydomain.DisplayPrefix],
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key issued",
		zap.String("tenant_id", tenantID),
		zap.String("key_id", key.ID.String()),
		zap.String("key_prefix", key.KeyPrefix),
	)

	return &apikeydomain.SecretResponse{
		ID:        key.ID.String(),
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		Key:       plain,
	}, nil
}

// Resolve maps a raw key to its owner. A malformed token is reported
// separately from an unknown one.
func (s *Service) Resolve(ctx context.Context, rawKey string) (*apikeydomain.Credential, error) {
	rawKey = strings.TrimSpace(rawKey)
	if !strings.HasPrefix(rawKey, apikeydomain.KeyPrefix) || len(rawKey) <= len(apikeydomain.KeyPrefix) {
		return nil, apikeydomain.ErrInvalidKeyFormat
	}

	hash := apikeydomain.HashAPIKey(rawKey)
	record, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if record == nil || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
		return nil, apikeydomain.ErrInvalidCredential
	}

	s.touchLastUsed(record.ID)

	return &apikeydomain.Credential{
		TenantID: record.TenantID,
		KeyID:    record.ID,
	}, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]apikeydomain.Response, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, apikeydomain.ErrInvalidTenant
	}

	items, err := s.repo.List(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, keyID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return apikeydomain.ErrInvalidTenant
	}
	id, err := snowflake.ParseString(strings.TrimSpace(keyID))
	if err != nil || id == 0 {
		return apikeydomain.ErrInvalidKeyID
	}

	affected, err := s.repo.Delete(ctx, s.db, tenantID, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apikeydomain.ErrNotFound
	}

	s.log.Info("api key deleted", zap.String("tenant_id", tenantID), zap.String("key_id", id.String()))
	return nil
}

// touchLastUsed records usage without holding up the request; it gets its
// own deadline so a cancelled request does not cancel the write.
func (s *Service) touchLastUsed(id snowflake.ID) {
	at := s.clock.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()

		err := s.repo.TouchLastUsed(ctx, s.db, id, at)
		if err != nil {
			s.log.Warn("failed to update api key last_used_at",
				zap.String("key_id", id.String()),
				zap.Error(err),
			)
		}
		if s.touched != nil {
			s.touched(id, err)
		}
	}()
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		ID:         key.ID.String(),
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}

func generateAPIKey() (string, error) {
	var b strings.Builder
	b.Grow(len(apikeydomain.KeyPrefix) + apikeydomain.KeySecretLength)
	b.WriteString(apikeydomain.KeyPrefix)

	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < apikeydomain.KeySecretLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}
