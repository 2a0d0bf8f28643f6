package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/pushrelay/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithTenantID(ctx, "user_42")
	ctx = obscontext.WithActor(ctx, "api_key", "123")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", fields["request_id"])
	}
	if fields["tenant_id"] != "user_42" {
		t.Fatalf("expected tenant_id user_42, got %v", fields["tenant_id"])
	}
	if fields["actor_type"] != "api_key" || fields["actor_id"] != "123" {
		t.Fatalf("unexpected actor fields: %v", fields)
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatalf("trace_id must be omitted without a span")
	}
}

func TestWithContextWithoutFieldsReturnsBase(t *testing.T) {
	base := zap.NewNop()
	if got := WithContext(context.Background(), base); got != base {
		t.Fatalf("expected base logger to be returned unchanged")
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM notification_jobs":                     "SELECT",
		"  insert into inbound_events (id) values (1)":        "INSERT",
		"WITH due AS (SELECT 1) UPDATE notification_jobs SET": "SELECT",
		"": "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestTableFromSQL(t *testing.T) {
	cases := map[string]string{
		`SELECT * FROM "notification_jobs" WHERE id = 1`: "notification_jobs",
		"INSERT INTO `inbound_events` (id) VALUES (1)":   "inbound_events",
		"update push_subscriptions set enabled = false":  "push_subscriptions",
		"PRAGMA foreign_keys = ON":                       "",
	}
	for sql, want := range cases {
		if got := tableFromSQL(sql); got != want {
			t.Fatalf("tableFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), GormLoggerConfig{SlowThreshold: time.Second})
	query := func() (string, int64) { return "SELECT * FROM agents", 2 }

	gl.Trace(context.Background(), time.Now(), query, nil)
	if n := logs.Len(); n != 0 {
		t.Fatalf("fast query at warn level must not log, got %d entries", n)
	}

	gl.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	if n := logs.Len(); n != 0 {
		t.Fatalf("record not found must not log, got %d entries", n)
	}

	gl.Trace(context.Background(), time.Now().Add(-2*time.Second), query, nil)
	entries := logs.TakeAll()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one slow query warning, got %v", entries)
	}
	fields := entries[0].ContextMap()
	if fields["slow"] != true || fields["table"] != "agents" || fields["operation"] != "SELECT" {
		t.Fatalf("unexpected slow query fields: %v", fields)
	}

	gl.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	entries = logs.TakeAll()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error entry, got %v", entries)
	}

	gl.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), query, errors.New("boom"))
	if n := logs.Len(); n != 0 {
		t.Fatalf("silent mode must not log, got %d entries", n)
	}
}
