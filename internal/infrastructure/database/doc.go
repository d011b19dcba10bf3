// Package database provides the SQLite connection used for the event
// history log.
//
// SQLite runs embedded with WAL mode enabled so history readers never block
// the single writer. The connection pool is pinned to one connection since
// SQLite supports only one writer.
//
// Schema is owned by the packages that store data. Each calls EnsureSchema
// at startup with its component name and a version number; statements run
// only when the version recorded in schema_versions is older.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package database
