package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	graph_id TEXT UNIQUE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	is_all_day INTEGER NOT NULL DEFAULT 0,
	show_as TEXT NOT NULL DEFAULT 'busy',
	categories TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	synced_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	syncConfigKey = "sync_config"
	syncStatusKey = "sync_status"
)

// SQLite is the Store implementation backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (and if necessary creates) the database at the given path.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithContext(err, "open database")
	}

	// modernc.org/sqlite serializes writes itself, but concurrent
	// connections to the same in-memory database don't share state.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.WithContext(err, "apply schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const eventColumns = `id, graph_id, title, description, start_time, end_time,
	is_all_day, show_as, categories, created_at, updated_at, synced_at`

func (s *SQLite) ListEvents(start, end time.Time) ([]event.Local, error) {
	rows, err := s.db.Query(`
		SELECT `+eventColumns+` FROM events
		WHERE start_time <= ? AND end_time >= ?
		ORDER BY start_time`,
		formatTime(end), formatTime(start))
	if err != nil {
		return nil, errors.WithContext(err, "query events")
	}
	return scanEvents(rows)
}

func (s *SQLite) ListSynced() ([]event.Local, error) {
	rows, err := s.db.Query(`
		SELECT ` + eventColumns + ` FROM events
		WHERE graph_id IS NOT NULL AND graph_id != ''
		ORDER BY start_time`)
	if err != nil {
		return nil, errors.WithContext(err, "query synced events")
	}
	return scanEvents(rows)
}

func (s *SQLite) GetByExternalIDs(ids []string) (map[string]event.Local, error) {
	result := map[string]event.Local{}
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`
		SELECT `+eventColumns+` FROM events
		WHERE graph_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, errors.WithContext(err, "query events by external id")
	}

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		result[e.ExternalID] = e
	}
	return result, nil
}

func (s *SQLite) CreateEvent(e event.Local) (event.Local, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	categories, err := encodeCategories(e.Categories)
	if err != nil {
		return event.Local{}, err
	}

	_, err = s.db.Exec(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.ExternalID), e.Title, e.Description,
		formatTime(e.Start), formatTime(e.End), boolToInt(e.AllDay),
		string(e.ShowAs), categories,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullTime(e.SyncedAt))
	if err != nil {
		return event.Local{}, errors.WithContext(err, "insert event")
	}
	return e, nil
}

func (s *SQLite) UpdateEvent(id string, e event.Local) error {
	categories, err := encodeCategories(e.Categories)
	if err != nil {
		return err
	}

	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE events SET graph_id = ?, title = ?, description = ?,
			start_time = ?, end_time = ?, is_all_day = ?, show_as = ?,
			categories = ?, updated_at = ?, synced_at = ?
		WHERE id = ?`,
		nullString(e.ExternalID), e.Title, e.Description,
		formatTime(e.Start), formatTime(e.End), boolToInt(e.AllDay),
		string(e.ShowAs), categories,
		formatTime(e.UpdatedAt), nullTime(e.SyncedAt), id)
	if err != nil {
		return errors.WithContext(err, "update event")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteEvent(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return false, errors.WithContext(err, "delete event")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithContext(err, "rows affected")
	}
	return n > 0, nil
}

func (s *SQLite) GetSyncConfig() (SyncConfig, error) {
	var config SyncConfig
	ok, err := s.getSetting(syncConfigKey, &config)
	if err != nil || !ok {
		return SyncConfig{}, err
	}
	return config, nil
}

func (s *SQLite) SetSyncConfig(config SyncConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	return s.setSetting(syncConfigKey, config)
}

func (s *SQLite) GetSyncStatus() (SyncStatus, error) {
	var status SyncStatus
	ok, err := s.getSetting(syncStatusKey, &status)
	if err != nil || !ok {
		return SyncStatus{}, err
	}
	return status, nil
}

func (s *SQLite) SetSyncStatus(status SyncStatus) error {
	return s.setSetting(syncStatusKey, status)
}

func (s *SQLite) ClearSyncData() error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, syncStatusKey)
	if err != nil {
		return errors.WithContext(err, "clear sync status")
	}
	return nil
}

func (s *SQLite) ClearAllData() error {
	if _, err := s.db.Exec(`DELETE FROM events`); err != nil {
		return errors.WithContext(err, "delete events")
	}
	return s.ClearSyncData()
}

func (s *SQLite) getSetting(key string, out interface{}) (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.WithContext(err, "query setting")
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, errors.WithContext(err, "parse setting")
	}
	return true, nil
}

func (s *SQLite) setSetting(key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return errors.WithContext(err, "marshal setting")
	}
	_, err = s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(encoded))
	if err != nil {
		return errors.WithContext(err, "write setting")
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]event.Local, error) {
	defer rows.Close()

	var events []event.Local
	for rows.Next() {
		var e event.Local
		var graphID, syncedAt sql.NullString
		var start, end, createdAt, updatedAt, categories, showAs string
		var allDay int

		err := rows.Scan(&e.ID, &graphID, &e.Title, &e.Description,
			&start, &end, &allDay, &showAs, &categories,
			&createdAt, &updatedAt, &syncedAt)
		if err != nil {
			return nil, errors.WithContext(err, "scan event")
		}

		e.ExternalID = graphID.String
		e.AllDay = allDay != 0
		e.ShowAs = event.ShowAs(showAs)
		if e.Categories, err = decodeCategories(categories); err != nil {
			return nil, err
		}
		if e.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if e.End, err = parseTime(end); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if syncedAt.Valid {
			t, err := parseTime(syncedAt.String)
			if err != nil {
				return nil, err
			}
			e.SyncedAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// encodeCategories stores the normalized category set as a JSON array.
// Category names may contain any character (commas included), so a joined
// string wouldn't round-trip.
func encodeCategories(categories []string) (string, error) {
	normalized := event.NormalizeCategories(categories)
	if len(normalized) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return "", errors.WithContext(err, "marshal categories")
	}
	return string(encoded), nil
}

func decodeCategories(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var categories []string
	if err := json.Unmarshal([]byte(s), &categories); err != nil {
		return nil, errors.WithContext(err, "parse categories")
	}
	return categories, nil
}

// formatTime uses a fixed-width fractional layout so that the string
// comparisons in ListEvents order sub-second timestamps correctly.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.WithContext(err, "parse stored time")
	}
	return t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
