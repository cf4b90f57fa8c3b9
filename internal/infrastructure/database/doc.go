// Package database provides the local SQLite database for Gray Logic Sync.
//
// The shared store holds everything other devices need to see. This
// database holds what must survive a restart on this device only: its own
// identity, the last merged device table, and the message watermark.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded SQL files named YYYYMMDD_HHMMSS_description.up.sql,
// registered by the migrations package at init time.
package database
