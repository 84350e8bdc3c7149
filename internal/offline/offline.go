// Package offline keeps a local SQLite snapshot of remote records so lists
// and searches keep working without connectivity. Records are stored as the
// JSON the backend sent, keyed by resource and uuid.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// ErrNoUUID is returned for payloads the backend has not assigned a uuid.
var ErrNoUUID = errors.New("offline: record has no uuid")

// Record is one stored payload. Name and Description are copied out of the
// payload for search.
type Record struct {
	Resource    string
	UUID        string
	Name        string
	Description string
	Payload     json.RawMessage
	SyncedAt    time.Time
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// NewRecord builds a record from any wire DTO. The search name is taken
// from "name", falling back to "fullName" then "username".
func NewRecord(resource string, dto any) (Record, error) {
	payload, err := json.Marshal(dto)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s record: %w", resource, err)
	}
	var keys struct {
		UUID        string  `json:"uuid"`
		Name        string  `json:"name"`
		FullName    string  `json:"fullName"`
		Username    *string `json:"username"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(payload, &keys); err != nil {
		return Record{}, fmt.Errorf("read %s record keys: %w", resource, err)
	}
	if keys.UUID == "" {
		return Record{}, ErrNoUUID
	}
	name := keys.Name
	if name == "" {
		name = keys.FullName
	}
	if name == "" && keys.Username != nil {
		name = *keys.Username
	}
	r := Record{Resource: resource, UUID: keys.UUID, Name: name, Payload: payload}
	if keys.Description != nil {
		r.Description = *keys.Description
	}
	return r, nil
}

const schema = `CREATE TABLE IF NOT EXISTS records (
	resource    TEXT NOT NULL,
	uuid        TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	payload     BLOB NOT NULL,
	synced_at   TEXT NOT NULL,
	PRIMARY KEY (resource, uuid)
);
CREATE INDEX IF NOT EXISTS records_name_idx ON records (resource, name);`

// Store is the SQLite snapshot.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "comvida.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := newStore(db)
	s.path = path
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Put inserts or replaces records of resource in one transaction.
func (s *Store) Put(ctx context.Context, resource string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.upsert(ctx, tx, resource, records)
	})
}

// Replace swaps every stored record of resource for records in one
// transaction. An empty records list empties the resource.
func (s *Store) Replace(ctx context.Context, resource string, records ...Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE resource = ?`, resource); err != nil {
			return fmt.Errorf("purge %s: %w", resource, err)
		}
		return s.upsert(ctx, tx, resource, records)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, resource string, records []Record) error {
	synced := s.now().UTC().Format(time.RFC3339Nano)
	for _, r := range records {
		if r.UUID == "" {
			return ErrNoUUID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO records (resource, uuid, name, description, payload, synced_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(resource, uuid) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				payload = excluded.payload,
				synced_at = excluded.synced_at`,
			resource, r.UUID, r.Name, r.Description, []byte(r.Payload), synced); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", resource, r.UUID, err)
		}
	}
	return nil
}

// List returns one page of resource ordered by name, plus the total count.
func (s *Store) List(ctx context.Context, resource string, limit, offset int) ([]Record, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE resource = ?`, resource).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", resource, err)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT resource, uuid, name, description, payload, synced_at
		FROM records WHERE resource = ? ORDER BY name, uuid LIMIT ? OFFSET ?`, resource, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", resource, err)
	}
	out, err := scanRecords(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", resource, err)
	}
	return out, total, nil
}

// Search matches term anywhere in the name or description, ordered by name.
func (s *Store) Search(ctx context.Context, resource, term string) ([]Record, error) {
	like := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT resource, uuid, name, description, payload, synced_at
		FROM records
		WHERE resource = ? AND (name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')
		ORDER BY name, uuid`, resource, like, like)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", resource, err)
	}
	out, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", resource, err)
	}
	return out, nil
}

// Delete removes one record. Removing a missing record is not an error.
func (s *Store) Delete(ctx context.Context, resource, uuid string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE resource = ? AND uuid = ?`, resource, uuid); err != nil {
		return fmt.Errorf("delete %s/%s: %w", resource, uuid, err)
	}
	return nil
}

// Purge drops every record of resource and reports how many were removed.
func (s *Store) Purge(ctx context.Context, resource string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE resource = ?`, resource)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", resource, err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload []byte
			synced  string
		)
		if err := rows.Scan(&r.Resource, &r.UUID, &r.Name, &r.Description, &payload, &synced); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.Payload = payload
		if t, err := time.Parse(time.RFC3339Nano, synced); err == nil {
			r.SyncedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
