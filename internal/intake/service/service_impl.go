package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/identity"
	intakedomain "github.com/smallbiznis/pushrelay/internal/intake/domain"
	ledgerdomain "github.com/smallbiznis/pushrelay/internal/ledger/domain"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"github.com/smallbiznis/pushrelay/internal/observability/metrics"
	"github.com/smallbiznis/pushrelay/internal/push"
	"github.com/smallbiznis/pushrelay/internal/signature"
	settingsdomain "github.com/smallbiznis/pushrelay/internal/usersettings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Metrics  *metrics.Metrics `optional:"true"`
	Verifier *signature.Verifier

	APIKeys  apikeydomain.Service
	Ledger   ledgerdomain.Service
	Jobs     jobdomain.Service
	Tasks    taskdomain.Service
	Settings settingsdomain.Service
	Agents   agentdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	metrics  *metrics.Metrics
	verifier *signature.Verifier

	apiKeys  apikeydomain.Service
	ledger   ledgerdomain.Service
	jobs     jobdomain.Service
	tasks    taskdomain.Service
	settings settingsdomain.Service
	agents   agentdomain.Service
}

func New(p Params) intakedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("intake.service"),
		clock:    clk,
		metrics:  p.Metrics,
		verifier: p.Verifier,
		apiKeys:  p.APIKeys,
		ledger:   p.Ledger,
		jobs:     p.Jobs,
		tasks:    p.Tasks,
		settings: p.Settings,
		agents:   p.Agents,
	}
}

func (s *Service) Authenticate(ctx context.Context, authorization string) (*apikeydomain.Credential, error) {
	if strings.TrimSpace(authorization) == "" {
		return nil, intakedomain.ErrUnauthorized
	}
	token := identity.BearerToken(authorization)
	if token == "" {
		return nil, intakedomain.ErrInvalidKeyFormat
	}
	cred, err := s.apiKeys.Resolve(ctx, token)
	if err != nil {
		s.metrics.RecordIntakeEvent(ctx, ledgerdomain.ProviderTask, intakedomain.OutcomeRejected)
		return nil, err
	}
	return cred, nil
}

// AcceptTask validates a task webhook and, for a first delivery, writes the
// ledger row, the task history row and the notification job in one
// transaction. A redelivery changes nothing and reports duplicate.
func (s *Service) AcceptTask(ctx context.Context, cred apikeydomain.Credential, req intakedomain.TaskWebhookRequest) (*intakedomain.TaskResult, error) {
	task, err := normalizeTask(req)
	if err != nil {
		s.metrics.RecordIntakeEvent(ctx, ledgerdomain.ProviderTask, intakedomain.OutcomeRejected)
		return nil, err
	}

	tenantID := cred.TenantID
	clientEventID := firstNonEmpty(req.DedupeKey, req.ProviderEventID)
	if clientEventID == "" {
		clientEventID = ulid.Make().String()
	}

	rawPayload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var (
		result   *ledgerdomain.RecordResult
		recorded *taskdomain.AgentTask
		enqueued bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ledger.RecordIfNewTx(ctx, tx, ledgerdomain.RecordRequest{
			Provider:        ledgerdomain.ProviderTask,
			ProviderEventID: ledgerdomain.ScopedEventID(tenantID, clientEventID),
			TenantID:        tenantID,
			Payload:         datatypes.JSON(rawPayload),
		})
		if err != nil {
			return err
		}
		if !result.IsNew {
			return nil
		}

		recorded, err = s.tasks.RecordTx(ctx, tx, taskdomain.RecordRequest{
			TenantID:  tenantID,
			APIKeyID:  cred.KeyID,
			EventID:   result.Event.ID,
			Title:     task.title,
			Status:    task.status,
			Duration:  req.Duration,
			Source:    req.Source,
			MachineID: req.MachineID,
			Metadata:  task.metadata,
		})
		if err != nil {
			return err
		}

		pushEnabled, err := s.settings.PushEnabledTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if pushEnabled {
			payload, err := push.Notification{
				Title: notificationTitle(task.status),
				Body:  task.title,
				Data: map[string]any{
					"url":    intakedomain.DashboardURL,
					"status": string(task.status),
					"taskId": recorded.ID.String(),
				},
			}.Marshal()
			if err != nil {
				return err
			}
			eventID := result.Event.ID
			if _, err := s.jobs.EnqueueIfNewTx(ctx, tx, jobdomain.EnqueueRequest{
				TenantID:      tenantID,
				SourceEventID: &eventID,
				Channel:       jobdomain.ChannelTaskWebhook,
				DedupeKey:     ledgerdomain.DedupeKey(ledgerdomain.ProviderTask, tenantID, clientEventID),
				Payload:       datatypes.JSON(payload),
			}); err != nil {
				return err
			}
			enqueued = true
		}

		return s.ledger.MarkProcessedTx(ctx, tx, result.Event.ID, s.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("accept task webhook: %w", err)
	}

	if !result.IsNew {
		s.metrics.RecordIntakeEvent(ctx, ledgerdomain.ProviderTask, intakedomain.OutcomeDuplicate)
		resp := &intakedomain.TaskResult{
			Success:   true,
			Accepted:  true,
			Duplicate: true,
			EventID:   result.Event.ID.String(),
			Message:   "Duplicate event ignored",
		}
		if existing, err := s.tasks.FindByEventID(ctx, result.Event.ID); err == nil {
			resp.TaskID = existing.ID.String()
		} else if !errors.Is(err, taskdomain.ErrNotFound) {
			return nil, err
		}
		return resp, nil
	}

	s.metrics.RecordIntakeEvent(ctx, ledgerdomain.ProviderTask, intakedomain.OutcomeAccepted)
	s.log.Info("task webhook accepted",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", result.Event.ID.String()),
		zap.String("task_id", recorded.ID.String()),
		zap.Bool("notification_enqueued", enqueued),
	)

	message := "Task recorded"
	if enqueued {
		message = "Task recorded and notification queued"
	}
	return &intakedomain.TaskResult{
		Success:  true,
		Accepted: true,
		EventID:  result.Event.ID.String(),
		TaskID:   recorded.ID.String(),
		Message:  message,
	}, nil
}

// AcceptAgent runs the agent webhook checks in order: id, secret,
// signature, body, agent existence. Nothing is written until all pass.
func (s *Service) AcceptAgent(ctx context.Context, in intakedomain.AgentWebhookInput) (*intakedomain.AgentResult, error) {
	agent, payload, err := s.checkAgentRequest(ctx, in)
	if err != nil {
		s.metrics.RecordIntakeEvent(ctx, ledgerdomain.ProviderAgent, intakedomain.OutcomeRejected)
		return nil, err
	}

	notification, err := push.Notification{
		Title: agent.Name,
		Body:  payload.Message,
		Data: map[string]any{
			"url":             "/agents/" + agent.ID,
			"agentId":         agent.ID,
			"eventType":       payload.EventType,
			"providerEventId": payload.ProviderEventID,
		},
	}.Marshal()
	if err != nil {
		return nil, err
	}

	var result *ledgerdomain.RecordResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ledger.RecordIfNewTx(ctx, tx, ledgerdomain.RecordRequest{
			Provider:        ledgerdomain.ProviderAgent,
			ProviderEventID: ledgerdomain.ScopedEventID(agent.ID, payload.ProviderEventID),
			TenantID:        agent.TenantID,
			Payload:         datatypes.JSON(payload.Raw),
		})
		if err != nil {
			return err
		}
		if !result.IsNew {
			return nil
		}

		if _, err := s.agents.RecordEventTx(ctx, tx, agent.ID, payload); err != nil {
			return err
		}

		eventID := result.Event.ID
		if _, err := s.jobs.EnqueueIfNewTx(ctx, tx, jobdomain.EnqueueRequest{
			TenantID:      agent.TenantID,
			SourceEventID: &eventID,
			Channel:       jobdomain.ChannelAgentWebhook,
			DedupeKey:     ledgerdomain.DedupeKey(ledgerdomain.ProviderAgent, agent.ID, payload.NotificationKey()),
			Payload:       datatypes.JSON(notification),
		}); err != nil {
			return err
		}

		return s.ledger.MarkProcessedTx(ctx, tx, result.Event.ID, s.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("accept agent webhook: %w", err)
	}

	outcome := intakedomain.OutcomeAccepted
	if !result.IsNew {
		outcome = intakedomain.OutcomeDuplicate
	}
	s.metrics.RecordIntakeEvent(ctx, ledgerdomain.ProviderAgent, outcome)
	if result.IsNew && agent.TenantID == "" {
		s.log.Warn("agent webhook accepted for agent without tenant", zap.String("agent_id", agent.ID))
	}

	return &intakedomain.AgentResult{
		OK:        true,
		Accepted:  true,
		Duplicate: !result.IsNew,
		EventID:   result.Event.ID.String(),
	}, nil
}

func (s *Service) checkAgentRequest(ctx context.Context, in intakedomain.AgentWebhookInput) (*agentdomain.Agent, *agentdomain.WebhookPayload, error) {
	agentID := strings.TrimSpace(in.AgentID)
	agent, err := s.agents.Get(ctx, agentID)
	switch {
	case errors.Is(err, agentdomain.ErrInvalidAgentID):
		return nil, nil, err
	case errors.Is(err, agentdomain.ErrNotFound):
		agent = nil
	case err != nil:
		return nil, nil, err
	}
	if agent != nil {
		agentID = agent.ID
	}

	if err := s.agents.VerifySecret(agentID, agent, in.Secret); err != nil {
		return nil, nil, err
	}

	if sig := strings.TrimSpace(in.Signature); sig != "" {
		if err := s.verifier.Verify(sig, in.Body); err != nil {
			s.log.Info("agent webhook signature rejected", zap.String("agent_id", agentID), zap.Error(err))
			return nil, nil, intakedomain.ErrInvalidSignature
		}
	}

	payload, err := s.agents.ParsePayload(in.Body)
	if err != nil {
		return nil, nil, err
	}

	if agent == nil {
		return nil, nil, agentdomain.ErrNotFound
	}
	return agent, payload, nil
}

type normalizedTask struct {
	title    string
	status   taskdomain.TaskStatus
	metadata datatypes.JSON
}

func normalizeTask(req intakedomain.TaskWebhookRequest) (*normalizedTask, error) {
	fields := map[string]string{}

	title := firstNonEmpty(req.Title, req.Message)
	if title == "" {
		fields["title"] = "title or message is required"
	}

	status := taskdomain.TaskStatusSuccess
	if req.Status != nil {
		status = taskdomain.TaskStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		if !status.Valid() {
			fields["status"] = "must be one of success, failure, cancelled"
		}
	}

	if req.Duration != nil && *req.Duration < 0 {
		fields["duration"] = "must be a non-negative number"
	}

	var metadata datatypes.JSON
	if raw := strings.TrimSpace(string(req.Metadata)); raw != "" && raw != "null" {
		if !strings.HasPrefix(raw, "{") {
			fields["metadata"] = "must be an object"
		} else {
			metadata = datatypes.JSON(raw)
		}
	}

	if len(fields) > 0 {
		return nil, &intakedomain.ValidationError{Fields: fields}
	}
	return &normalizedTask{title: title, status: status, metadata: metadata}, nil
}

func notificationTitle(status taskdomain.TaskStatus) string {
	switch status {
	case taskdomain.TaskStatusFailure:
		return "Task Failed"
	case taskdomain.TaskStatusCancelled:
		return "Task Cancelled"
	default:
		return "Task Completed"
	}
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if trimmed := strings.TrimSpace(*v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
