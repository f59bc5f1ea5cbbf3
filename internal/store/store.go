package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ActuatorState is the persisted state of one actuator.
type ActuatorState struct {
	Name          string    `json:"name"`
	Level         int       `json:"level"`
	LastCommanded string    `json:"last_commanded"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HistoryEntry is one stored reading.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Sensor     string    `json:"sensor"`
	Output     string    `json:"output,omitempty"`
	Value      string    `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store reads and writes the actuator_state and reading_history tables.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a store on an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SaveState records the current level of an actuator, replacing any
// previous row.
func (s *Store) SaveState(ctx context.Context, name string, level int, lastCommanded string) error {
	if name == "" {
		return fmt.Errorf("actuator name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actuator_state (name, level, last_commanded, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		     level = excluded.level,
		     last_commanded = excluded.last_commanded,
		     updated_at = excluded.updated_at`,
		name, level, lastCommanded, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("saving actuator state: %w", err)
	}
	return nil
}

// LoadLevel returns the persisted level of an actuator. ok is false when
// nothing was stored for name.
func (s *Store) LoadLevel(ctx context.Context, name string) (level int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT level FROM actuator_state WHERE name = ?", name,
	).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading actuator state: %w", err)
	}
	return level, true, nil
}

// States returns every persisted actuator state ordered by name.
func (s *Store) States(ctx context.Context) ([]ActuatorState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, level, last_commanded, updated_at FROM actuator_state ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying actuator states: %w", err)
	}
	defer rows.Close()

	var states []ActuatorState
	for rows.Next() {
		var st ActuatorState
		var updated string
		if err := rows.Scan(&st.Name, &st.Level, &st.LastCommanded, &updated); err != nil {
			return nil, fmt.Errorf("scanning actuator state: %w", err)
		}
		if st.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator states: %w", err)
	}
	return states, nil
}

// RecordReading appends a reading to the history.
func (s *Store) RecordReading(ctx context.Context, sensor, output, value string, at time.Time) error {
	if sensor == "" {
		return fmt.Errorf("sensor name is required")
	}
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO reading_history (sensor, output, value, recorded_at) VALUES (?, ?, ?, ?)",
		sensor, output, value, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// History returns the latest readings of a sensor, newest first.
//
// limit defaults to 50 and is capped at 500.
func (s *Store) History(ctx context.Context, sensor string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sensor, output, value, recorded_at
		 FROM reading_history
		 WHERE sensor = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		sensor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var recorded string
		if err := rows.Scan(&e.ID, &e.Sensor, &e.Output, &e.Value, &recorded); err != nil {
			return nil, fmt.Errorf("scanning reading history: %w", err)
		}
		if e.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reading history: %w", err)
	}
	return entries, nil
}

// Prune deletes readings older than olderThan and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(s.now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx, "DELETE FROM reading_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning reading history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}
