package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return Config{
		Subject:    "mailto:ops@example.com",
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		TTL:        30,
		Urgency:    webpush.UrgencyHigh,
		Timeout:    2 * time.Second,
	}
}

func browserSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Config{Push: config.PushConfig{
		VAPIDSubject:    "ops@example.com",
		VAPIDPublicKey:  " pub ",
		VAPIDPrivateKey: "priv",
		Urgency:         "LOW",
	}})

	assert.Equal(t, "mailto:ops@example.com", cfg.Subject)
	assert.Equal(t, "pub", cfg.PublicKey)
	assert.Equal(t, defaultTTL, cfg.TTL)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, webpush.UrgencyLow, cfg.Urgency)
	assert.True(t, cfg.Configured())
	assert.NoError(t, cfg.Validate())

	https := ConfigFrom(config.Config{Push: config.PushConfig{VAPIDSubject: "https://example.com"}})
	assert.Equal(t, "https://example.com", https.Subject)
	assert.ErrorIs(t, https.Validate(), ErrPushNotConfigured)
}

func TestSendDelivers(t *testing.T) {
	var hits atomic.Int32
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := NewSenderWithClient(testConfig(t), srv.Client(), zap.NewNop())
	payload, err := Notification{Title: "Task Completed", Body: "build", Data: map[string]any{"url": "/dashboard"}}.Marshal()
	require.NoError(t, err)

	err = sender.Send(context.Background(), browserSubscription(t, srv.URL+"/push/1"), payload)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	gotHeader := <-headers
	assert.Equal(t, "aes128gcm", gotHeader.Get("Content-Encoding"))
	assert.Equal(t, "30", gotHeader.Get("TTL"))
	assert.Equal(t, "high", gotHeader.Get("Urgency"))
	assert.True(t, strings.HasPrefix(gotHeader.Get("Authorization"), "vapid t="))
}

func TestSendClassifiesGoneEndpoints(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		sender := NewSenderWithClient(testConfig(t), srv.Client(), zap.NewNop())
		err := sender.Send(context.Background(), browserSubscription(t, srv.URL), []byte(`{}`))
		srv.Close()

		require.Error(t, err)
		assert.True(t, IsGone(err), "status %d", status)

		var derr *DeliveryError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, status, derr.StatusCode)
	}
}

func TestSendReportsTransientFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender := NewSenderWithClient(testConfig(t), srv.Client(), zap.NewNop())
	err := sender.Send(context.Background(), browserSubscription(t, srv.URL), []byte(`{}`))
	require.Error(t, err)
	assert.False(t, IsGone(err))
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestSendHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(t)
	cfg.Timeout = 50 * time.Millisecond
	sender := NewSenderWithClient(cfg, srv.Client(), zap.NewNop())

	start := time.Now()
	err := sender.Send(context.Background(), browserSubscription(t, srv.URL), []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsGone(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSendWithoutConfig(t *testing.T) {
	sender := NewSender(Config{}, zap.NewNop())
	err := sender.Send(context.Background(), Subscription{Endpoint: "https://push.example.com"}, nil)
	assert.ErrorIs(t, err, ErrPushNotConfigured)
}
