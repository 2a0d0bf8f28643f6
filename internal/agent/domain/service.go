package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const SecretPrefix = "agt_"

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, agent *Agent) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Agent, error)
	List(ctx context.Context, db *gorm.DB, tenantID string) ([]Agent, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID, id string) (int64, error)
	InsertEventIfAbsent(ctx context.Context, db *gorm.DB, event *AgentEvent) (bool, error)
}

type Service interface {
	Create(ctx context.Context, tenantID string, req CreateRequest) (*CreateResponse, error)
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context, tenantID string) ([]Agent, error)
	Delete(ctx context.Context, tenantID, id string) error

	// VerifySecret checks a webhook secret for agentID. agent may be nil
	// when the id is unknown; configured shared secrets still apply.
	VerifySecret(agentID string, agent *Agent, provided string) error
	ParsePayload(body []byte) (*WebhookPayload, error)
	RecordEventTx(ctx context.Context, tx *gorm.DB, agentID string, payload *WebhookPayload) (bool, error)
}

type CreateRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

type CreateResponse struct {
	Agent  *Agent `json:"agent"`
	Secret string `json:"secret"`
}

var (
	ErrInvalidAgentID      = errors.New("invalid_agent_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrNotFound            = errors.New("not_found")
	ErrSecretMissing       = errors.New("agent_secret_missing")
	ErrInvalidSecret       = errors.New("invalid_agent_secret")
	ErrSecretNotConfigured = errors.New("webhook_secret_not_configured")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrSlugExhausted       = errors.New("agent_slug_exhausted")
)

// PayloadError lists schema violations keyed by JSON field name.
type PayloadError struct {
	Fields map[string]string
}

func (e *PayloadError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "invalid_payload: " + strings.Join(parts, "; ")
}

func (e *PayloadError) Unwrap() error {
	return ErrInvalidPayload
}
