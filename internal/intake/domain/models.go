package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
)

const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"

	DashboardURL = "/dashboard"
)

// TaskWebhookRequest is the body a CLI posts when a task finishes. Title
// falls back to Message.
type TaskWebhookRequest struct {
	Title           *string         `json:"title"`
	Message         *string         `json:"message"`
	Status          *string         `json:"status"`
	Duration        *float64        `json:"duration"`
	Source          *string         `json:"source"`
	MachineID       *string         `json:"machineId"`
	Metadata        json.RawMessage `json:"metadata"`
	ProviderEventID *string         `json:"provider_event_id"`
	DedupeKey       *string         `json:"dedupe_key"`
}

type TaskResult struct {
	Success   bool   `json:"success"`
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	EventID   string `json:"eventId"`
	TaskID    string `json:"taskId,omitempty"`
	Message   string `json:"message"`
}

// AgentWebhookInput is everything the agent webhook handler extracts from
// the request before any check runs.
type AgentWebhookInput struct {
	AgentID   string
	Secret    string
	Signature string
	Body      []byte
}

type AgentResult struct {
	OK        bool   `json:"ok"`
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	EventID   string `json:"eventId"`
}

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidation       = errors.New("validation_error")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// ErrInvalidKeyFormat and ErrInvalidCredential are the credential store's
// own sentinels, re-exported for handlers.
var (
	ErrInvalidKeyFormat  = apikeydomain.ErrInvalidKeyFormat
	ErrInvalidCredential = apikeydomain.ErrInvalidCredential
)

// ValidationError carries one message per rejected field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation_error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
