package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	protocol   TEXT NOT NULL,
	started_at TEXT NOT NULL,
	header     TEXT NOT NULL,
	columns    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	seq        INTEGER NOT NULL,
	label      TEXT NOT NULL,
	vals       TEXT NOT NULL,
	timestamp  REAL,
	PRIMARY KEY (session_id, seq)
);
`

// Store keeps metadata records in a SQLite file, one row per session and
// one per event.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes rec under a new session id and returns the id.
func (s *Store) Save(ctx context.Context, protocol string, started time.Time, rec *Record) (string, error) {
	id := uuid.NewString()
	header, err := json.Marshal(rec.header)
	if err != nil {
		return "", err
	}
	columns, err := json.Marshal(rec.columns)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, protocol, started_at, header, columns) VALUES (?, ?, ?, ?, ?)`,
		id, protocol, started.UTC().Format(time.RFC3339Nano), string(header), string(columns)); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (session_id, seq, label, vals, timestamp) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, e := range rec.events {
		vals := make([]*float64, len(e.Values))
		for j := range e.Values {
			if !math.IsNaN(e.Values[j]) {
				vals[j] = &e.Values[j]
			}
		}
		encoded, err := json.Marshal(vals)
		if err != nil {
			return "", err
		}
		var ts any
		if !math.IsNaN(e.Timestamp) {
			ts = e.Timestamp
		}
		if _, err := stmt.ExecContext(ctx, id, i, e.Label, string(encoded), ts); err != nil {
			return "", fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	return id, tx.Commit()
}

// Load reads back the record stored under id.
func (s *Store) Load(ctx context.Context, id string) (*Record, error) {
	var header, columns string
	err := s.db.QueryRowContext(ctx,
		`SELECT header, columns FROM sessions WHERE id = ?`, id).Scan(&header, &columns)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	rec := &Record{}
	if err := json.Unmarshal([]byte(header), &rec.header); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(columns), &rec.columns); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT label, vals, timestamp FROM events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			label, encoded string
			ts             sql.NullFloat64
		)
		if err := rows.Scan(&label, &encoded, &ts); err != nil {
			return nil, err
		}
		var vals []*float64
		if err := json.Unmarshal([]byte(encoded), &vals); err != nil {
			return nil, err
		}
		e := Event{Label: label, Values: make([]float64, len(vals)), Timestamp: math.NaN()}
		for j, v := range vals {
			if v == nil {
				e.Values[j] = math.NaN()
			} else {
				e.Values[j] = *v
			}
		}
		if ts.Valid {
			e.Timestamp = ts.Float64
		}
		rec.events = append(rec.events, e)
	}
	return rec, rows.Err()
}

// Sessions lists stored session ids for protocol, oldest first. An empty
// protocol lists every session.
func (s *Store) Sessions(ctx context.Context, protocol string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE ? = '' OR protocol = ? ORDER BY started_at`, protocol, protocol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
