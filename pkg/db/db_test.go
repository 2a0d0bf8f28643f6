package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDialect(t *testing.T) {
	d, err := Dialect(Config{Type: "postgres", Host: "db", Port: "5432"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialect(Config{Type: "SQLite", Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = Dialect(Config{Type: "mysql"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	_, err = Dialect(Config{Type: "oracle"})
	require.Error(t, err)
}

func TestConfigFromConvertsSeconds(t *testing.T) {
	cfg := ConfigFrom(config.Config{DBType: "sqlite", DBPath: "x.db", DBConnMaxLifetime: 60})
	assert.Equal(t, "x.db", cfg.Path)
	assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: api_keys.key_hash")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection reset")))
}
