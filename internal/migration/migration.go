package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/pushrelay/internal/ledger/domain"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
	settingsdomain "github.com/smallbiznis/pushrelay/internal/usersettings/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&apikeydomain.APIKey{},
		&ledgerdomain.InboundEvent{},
		&jobdomain.NotificationJob{},
		&subdomain.Subscription{},
		&settingsdomain.UserSettings{},
		&agentdomain.Agent{},
		&agentdomain.AgentEvent{},
		&taskdomain.AgentTask{},
		&auditdomain.AuditLog{},
	}
}

// Run brings the schema up to date. Postgres uses the embedded SQL
// migrations; other dialects fall back to AutoMigrate.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
