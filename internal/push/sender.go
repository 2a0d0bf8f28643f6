package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/smallbiznis/pushrelay/internal/observability/tracing"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// Notification is the JSON document the service worker receives.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

func (n Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Subscription addresses one browser push endpoint.
type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// Sender delivers an encrypted payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

type WebPushSender struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func NewSender(cfg Config, log *zap.Logger) *WebPushSender {
	return NewSenderWithClient(cfg, &http.Client{}, log)
}

func NewSenderWithClient(cfg Config, client *http.Client, log *zap.Logger) *WebPushSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebPushSender{
		cfg:    cfg,
		client: tracing.WrapExternalHTTPClient(client),
		log:    log.Named("push.sender"),
	}
}

func (s *WebPushSender) Config() Config {
	return s.cfg
}

// Send encrypts payload for sub and posts it, bounded by the configured
// timeout. Non-2xx answers come back as *DeliveryError.
func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(sub.Endpoint) == "" {
		return errors.New("push subscription endpoint is empty")
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient: s.client,
		// webpush-go adds the mailto: scheme itself.
		Subscriber:      strings.TrimPrefix(s.cfg.Subject, "mailto:"),
		TTL:             s.cfg.TTL,
		Urgency:         s.cfg.Urgency,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	derr := newDeliveryError(resp.StatusCode, strings.TrimSpace(string(body)))
	s.log.Debug("push delivery rejected",
		zap.Int("status_code", resp.StatusCode),
		zap.Bool("gone", derr.Gone),
	)
	return derr
}
