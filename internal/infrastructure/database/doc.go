// Package database provides SQLite connectivity for the ACS gateway.
//
// It holds the controller records and applies embedded schema migrations.
// Queries elsewhere are parameterised; the file is created 0600 because
// it stores encrypted controller secrets.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
