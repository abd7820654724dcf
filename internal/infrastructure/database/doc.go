// Package database provides the SQLite connection used by the audit trail.
//
// The database is opened with WAL mode and a busy timeout when configured,
// and limited to a single connection. Schema changes are applied from an
// fs.FS of versioned migration files (see the top-level migrations package),
// each in its own transaction, and tracked in the schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
//	    return err
//	}
//
// Path ":memory:" opens a private in-memory database, which tests use.
package database
