package sink

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationsTable tracks applied ledger migrations, kept separate from any
// other schema history in the same database.
const migrationsTable = "audit_schema_migrations"

// MigrateLedger applies the embedded ledger migrations. Already-current
// schemas are not an error.
func (s *MySQLSink) MigrateLedger(ctx context.Context) error {
	const op = "MySQLSink.MigrateLedger"
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to load embedded migrations", op, err)
	}
	driver, err := migratemysql.WithInstance(s.sqlDB, &migratemysql.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to initialize migration driver", op, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to initialize migrator", op, err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("%s: ledger schema already up to date", op)
			return nil
		}
		return exception.NewAuditErrorf(moduleName, "%s: migration failed", op, err)
	}
	logger.Infof("%s: ledger schema migrated", op)
	return nil
}
