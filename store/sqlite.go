package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/psp/dbopen"
	"github.com/hazyhaar/psp/session"
)

// Schema for the snapshots table. Pass to dbopen.WithSchema or apply manually.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	adapter    TEXT NOT NULL DEFAULT '',
	origin     TEXT NOT NULL DEFAULT '',
	version    TEXT NOT NULL,
	state      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON snapshots(updated_at);
`

// SQLite persists snapshots as JSON rows in a SQLite table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a snapshot store backed by the given database connection.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Init creates the snapshots table if it doesn't exist.
func (s *SQLite) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Save upserts a snapshot. CreatedAt is preserved across overwrites.
func (s *SQLite) Save(ctx context.Context, meta Meta, st *session.State) error {
	if meta.ID == "" {
		return fmt.Errorf("store: save: empty snapshot id")
	}
	if st == nil {
		return fmt.Errorf("store: save: nil state")
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}

	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (id, name, adapter, origin, version, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				adapter = excluded.adapter,
				origin = excluded.origin,
				version = excluded.version,
				state = excluded.state,
				updated_at = excluded.updated_at`,
			meta.ID, meta.Name, meta.Adapter, st.Origin, st.Version, string(payload), now, now)
		return err
	})
}

// Load fetches a snapshot and rejects it if its schema major version is
// incompatible with this build.
func (s *SQLite) Load(ctx context.Context, id string) (*session.State, *Meta, error) {
	var meta Meta
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, adapter, origin, state, created_at, updated_at
		FROM snapshots WHERE id = ?`, id).
		Scan(&meta.ID, &meta.Name, &meta.Adapter, &meta.Origin, &payload, &meta.CreatedAt, &meta.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: load %s: %w", id, err)
	}

	var st session.State
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, nil, fmt.Errorf("store: unmarshal %s: %w", id, err)
	}
	if err := session.CheckVersion(st.Version); err != nil {
		return nil, nil, fmt.Errorf("store: load %s: %w", id, err)
	}
	return &st, &meta, nil
}

// Delete removes a snapshot. Deleting a missing ID returns ErrNotFound.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns metadata for all snapshots, most recently updated first.
func (s *SQLite) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, adapter, origin, created_at, updated_at
		FROM snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	metas := []Meta{}
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.ID, &m.Name, &m.Adapter, &m.Origin, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
