package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/pushrelay/internal/agent"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	"github.com/smallbiznis/pushrelay/internal/agenttask"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	"github.com/smallbiznis/pushrelay/internal/apikey"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	"github.com/smallbiznis/pushrelay/internal/audit"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/smallbiznis/pushrelay/internal/dispatcher"
	"github.com/smallbiznis/pushrelay/internal/identity"
	"github.com/smallbiznis/pushrelay/internal/intake"
	intakedomain "github.com/smallbiznis/pushrelay/internal/intake/domain"
	"github.com/smallbiznis/pushrelay/internal/ledger"
	"github.com/smallbiznis/pushrelay/internal/metricspush"
	"github.com/smallbiznis/pushrelay/internal/notificationjob"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"github.com/smallbiznis/pushrelay/internal/observability"
	obsmiddleware "github.com/smallbiznis/pushrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pushrelay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pushrelay/internal/observability/tracing"
	"github.com/smallbiznis/pushrelay/internal/push"
	"github.com/smallbiznis/pushrelay/internal/pushsubscription"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
	"github.com/smallbiznis/pushrelay/internal/ratelimit"
	"github.com/smallbiznis/pushrelay/internal/signature"
	"github.com/smallbiznis/pushrelay/internal/usersettings"
	settingsdomain "github.com/smallbiznis/pushrelay/internal/usersettings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	identity.Module,
	authorization.Module,
	signature.Module,
	ratelimit.Module,
	push.Module,
	apikey.Module,
	audit.Module,
	ledger.Module,
	notificationjob.Module,
	pushsubscription.Module,
	usersettings.Module,
	agent.Module,
	agenttask.Module,
	intake.Module,
	metricspush.Module,
	dispatcher.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// dispatchRunner is the part of the dispatcher the trigger route needs.
type dispatchRunner interface {
	RunOnce(ctx context.Context) (*dispatcher.Result, error)
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	clock            clock.Clock
	push             push.Config
	identity         *identity.Verifier
	authzSvc         authorization.Service
	intakeSvc        intakedomain.Service
	apiKeySvc        apikeydomain.Service
	subscriptionSvc  subdomain.Service
	settingsSvc      settingsdomain.Service
	agentSvc         agentdomain.Service
	taskSvc          taskdomain.Service
	jobSvc           jobdomain.Service
	auditSvc         auditdomain.Service
	dispatcher       dispatchRunner
	dispatchVerifier *signature.Verifier
	webhookLimiter   *ratelimit.WebhookLimiter
	obsMetrics       *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Clock            clock.Clock
	Push             push.Config
	Identity         *identity.Verifier
	AuthzSvc         authorization.Service
	IntakeSvc        intakedomain.Service
	APIKeySvc        apikeydomain.Service
	SubscriptionSvc  subdomain.Service
	SettingsSvc      settingsdomain.Service
	AgentSvc         agentdomain.Service
	TaskSvc          taskdomain.Service
	JobSvc           jobdomain.Service
	AuditSvc         auditdomain.Service
	Dispatcher       *dispatcher.Dispatcher
	DispatchVerifier *signature.Verifier
	WebhookLimiter   *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		clock:            clk,
		push:             p.Push,
		identity:         p.Identity,
		authzSvc:         p.AuthzSvc,
		intakeSvc:        p.IntakeSvc,
		apiKeySvc:        p.APIKeySvc,
		subscriptionSvc:  p.SubscriptionSvc,
		settingsSvc:      p.SettingsSvc,
		agentSvc:         p.AgentSvc,
		taskSvc:          p.TaskSvc,
		jobSvc:           p.JobSvc,
		auditSvc:         p.AuditSvc,
		dispatchVerifier: p.DispatchVerifier,
		webhookLimiter:   p.WebhookLimiter,
		obsMetrics:       p.ObsMetrics,
	}
	if p.Dispatcher != nil {
		svc.dispatcher = p.Dispatcher
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/api/webhook/task", s.APIKeyRequired(), s.WebhookRateLimit(), s.TaskWebhook)
	s.engine.POST("/webhooks/:agentId", s.AgentWebhook)
	s.engine.POST("/api/push/dispatch", s.DispatchTriggerRequired(), s.DispatchPush)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.AuthRequired())

	// -------- Push subscriptions --------
	api.POST("/push/subscribe", s.authorize(authorization.ObjectPushSubscription, authorization.ActionCreate), s.Subscribe)
	api.GET("/push-subscriptions", s.authorize(authorization.ObjectPushSubscription, authorization.ActionView), s.ListPushSubscriptions)
	api.POST("/push-subscriptions", s.authorize(authorization.ObjectPushSubscription, authorization.ActionCreate), s.Subscribe)
	api.DELETE("/push-subscriptions", s.authorize(authorization.ObjectPushSubscription, authorization.ActionDelete), s.Unsubscribe)

	// -------- API keys --------
	api.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionView), s.ListAPIKeys)
	api.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionCreate), s.CreateAPIKey)
	api.DELETE("/api-keys/:id", s.authorize(authorization.ObjectAPIKey, authorization.ActionDelete), s.DeleteAPIKey)

	// -------- User settings --------
	api.GET("/user-settings", s.authorize(authorization.ObjectUserSettings, authorization.ActionView), s.GetUserSettings)
	api.POST("/user-settings", s.authorize(authorization.ObjectUserSettings, authorization.ActionUpdate), s.UpdateUserSettings)

	// -------- Agents --------
	api.GET("/agents", s.authorize(authorization.ObjectAgent, authorization.ActionView), s.ListAgents)
	api.POST("/agents", s.authorize(authorization.ObjectAgent, authorization.ActionCreate), s.CreateAgent)
	api.DELETE("/agents/:id", s.authorize(authorization.ObjectAgent, authorization.ActionDelete), s.DeleteAgent)

	// -------- Task history --------
	api.GET("/agent-tasks", s.authorize(authorization.ObjectAgentTask, authorization.ActionView), s.ListAgentTasks)
	api.GET("/agent-tasks/count", s.authorize(authorization.ObjectAgentTask, authorization.ActionView), s.CountAgentTasks)
	api.DELETE("/agent-tasks/:id", s.authorize(authorization.ObjectAgentTask, authorization.ActionDelete), s.DeleteAgentTask)
	api.DELETE("/agent-tasks", s.authorize(authorization.ObjectAgentTask, authorization.ActionDelete), s.ClearAgentTasks)

	// -------- Notifications --------
	api.POST("/notifications/test", s.authorize(authorization.ObjectNotification, authorization.ActionNotificationTest), s.SendTestNotification)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	admin.GET("/notification-jobs", s.authorize(authorization.ObjectNotificationJob, authorization.ActionView), s.ListNotificationJobs)
	admin.POST("/notification-jobs/:id/requeue", s.authorize(authorization.ObjectNotificationJob, authorization.ActionNotificationRequeue), s.RequeueNotificationJob)
}
