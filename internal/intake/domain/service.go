package domain

import (
	"context"

	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
)

type Service interface {
	// Authenticate resolves an Authorization header to a credential.
	Authenticate(ctx context.Context, authorization string) (*apikeydomain.Credential, error)
	AcceptTask(ctx context.Context, cred apikeydomain.Credential, req TaskWebhookRequest) (*TaskResult, error)
	AcceptAgent(ctx context.Context, in AgentWebhookInput) (*AgentResult, error)
}
