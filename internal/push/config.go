package push

import (
	"errors"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/smallbiznis/pushrelay/internal/config"
)

const (
	defaultTTL     = 60
	defaultTimeout = 10 * time.Second
)

var (
	ErrPushNotConfigured = errors.New("push_not_configured")
	ErrInvalidSubject    = errors.New("invalid_vapid_subject")
)

// Config is the VAPID identity and delivery tuning, built once at start.
type Config struct {
	Subject    string
	PublicKey  string
	PrivateKey string
	TTL        int
	Urgency    webpush.Urgency
	Timeout    time.Duration
}

// ConfigFrom derives the push config from application configuration. A bare
// subject is treated as an e-mail address.
func ConfigFrom(cfg config.Config) Config {
	subject := strings.TrimSpace(cfg.Push.VAPIDSubject)
	if subject != "" && !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https:") {
		subject = "mailto:" + subject
	}

	ttl := cfg.Push.TTLSeconds
	if ttl <= 0 {
		ttl = defaultTTL
	}
	timeout := cfg.Push.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return Config{
		Subject:    subject,
		PublicKey:  strings.TrimSpace(cfg.Push.VAPIDPublicKey),
		PrivateKey: strings.TrimSpace(cfg.Push.VAPIDPrivateKey),
		TTL:        ttl,
		Urgency:    parseUrgency(cfg.Push.Urgency),
		Timeout:    timeout,
	}
}

// Configured reports whether all three VAPID values are present.
func (c Config) Configured() bool {
	return c.Subject != "" && c.PublicKey != "" && c.PrivateKey != ""
}

func (c Config) Validate() error {
	if !c.Configured() {
		return ErrPushNotConfigured
	}
	if !strings.HasPrefix(c.Subject, "mailto:") && !strings.HasPrefix(c.Subject, "https:") {
		return ErrInvalidSubject
	}
	return nil
}

func parseUrgency(raw string) webpush.Urgency {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(webpush.UrgencyVeryLow):
		return webpush.UrgencyVeryLow
	case string(webpush.UrgencyLow):
		return webpush.UrgencyLow
	case string(webpush.UrgencyHigh):
		return webpush.UrgencyHigh
	default:
		return webpush.UrgencyNormal
	}
}
