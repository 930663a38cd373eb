// Package migration applies versioned schema changes to the SQLite store.
//
// Migration files are named {version}_{description}.sql (for example
// "003_create_reservations.sql") and are read from an fs.FS, usually the
// embedded migrations directory of the sqlite package. Each file runs in its
// own transaction and is recorded in the schema_migrations table so it is
// applied exactly once. Trigger bodies (CREATE TRIGGER ... BEGIN ... END;) are
// kept intact when files are split into statements.
//
// Example usage:
//
//	manager := migration.NewMigrationManager(
//		migration.NewFileScanner(files),
//		migration.NewSQLiteExecutor(db),
//		"migrations",
//		logger,
//	)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
