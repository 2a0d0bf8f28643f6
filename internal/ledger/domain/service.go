package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent reports false when (provider, provider_event_id) exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *InboundEvent) (bool, error)
	FindByProviderEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*InboundEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Service interface {
	RecordIfNew(ctx context.Context, req RecordRequest) (*RecordResult, error)
	RecordIfNewTx(ctx context.Context, tx *gorm.DB, req RecordRequest) (*RecordResult, error)
	MarkProcessed(ctx context.Context, eventID snowflake.ID, at time.Time) error
	MarkProcessedTx(ctx context.Context, tx *gorm.DB, eventID snowflake.ID, at time.Time) error
}

type RecordRequest struct {
	Provider        string
	ProviderEventID string
	TenantID        string
	Payload         datatypes.JSON
}

var (
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidEventID  = errors.New("invalid_provider_event_id")
)

// DedupeKey derives the stable job dedupe key for an accepted event.
func DedupeKey(provider, tenantID, eventID string) string {
	return strings.Join([]string{provider, tenantID, eventID}, ":")
}

// ScopedEventID namespaces a client supplied event id by its owner so two
// owners reusing an id never collide in the ledger.
func ScopedEventID(owner, eventID string) string {
	return owner + ":" + eventID
}
