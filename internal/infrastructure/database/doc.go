// Package database provides SQLite connectivity for the scheduler.
//
// It owns the connection (WAL, busy timeout, foreign keys, single
// writer) and the embedded migration runner. Repositories in other
// packages take the *sql.DB it exposes.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or defaulted, and
// each .up.sql ships with a .down.sql.
package database
