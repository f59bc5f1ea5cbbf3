// Package database provides SQLite connectivity for the Gray Logic Reporter.
//
// This package manages:
//   - The connection to the local state file, in WAL mode
//   - Forward-only schema migrations loaded from an fs.FS
//
// The reporter keeps little here: the last commanded state of each actuator
// (so that initial_state: restore survives a restart) and a short reading
// history for the status API.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600
package database
