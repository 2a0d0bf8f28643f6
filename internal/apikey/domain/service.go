package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	KeyPrefix       = "fin_"
	KeySecretLength = 32
	DisplayPrefix   = 12
)

// HashAPIKey is the lookup key stored for a raw key: hex SHA-256.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, tenantID string) ([]APIKey, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (int64, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Service interface {
	Issue(ctx context.Context, tenantID, name string) (*SecretResponse, error)
	Resolve(ctx context.Context, rawKey string) (*Credential, error)
	List(ctx context.Context, tenantID string) ([]Response, error)
	Delete(ctx context.Context, tenantID, keyID string) error
}

type CreateRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

type Response struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// SecretResponse carries the raw key. It is only ever returned at creation.
type SecretResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyPrefix string `json:"keyPrefix"`
	Key       string `json:"key"`
}

var (
	ErrInvalidKeyFormat  = errors.New("invalid_api_key_format")
	ErrInvalidCredential = errors.New("invalid_credential")
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidKeyID      = errors.New("invalid_key_id")
	ErrNotFound          = errors.New("not_found")
)
