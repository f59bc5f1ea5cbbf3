// Package store persists actuator levels and recent sensor readings in the
// reporter's SQLite state file.
//
// Levels let an actuator configured with initial_state: restore come back
// at the level it was last commanded to. Reading history backs the local
// status API and is pruned by age.
//
// The schema lives in the top-level migrations package and is applied with
// database.DB.Migrate before a Store is used.
package store
