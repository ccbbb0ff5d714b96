package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/sqlite"

	"mldownloader/internal/config"
)

// ErrNoRow is returned when a model has no registry entry.
var ErrNoRow = errors.New("state: no such model")

type DB struct {
	SQL  *sql.DB
	Path string
}

func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if cfg.General.DataRoot == "" {
		return nil, errors.New("general.data_root required")
	}
	if err := os.MkdirAll(cfg.General.DataRoot, 0o755); err != nil {
		return nil, err
	}
	return OpenPath(filepath.Join(cfg.General.DataRoot, "state.db"))
}

// OpenPath opens (and migrates) the registry database at path.
func OpenPath(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return &DB{SQL: sqldb, Path: path}, nil
}

func (db *DB) Close() error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS models (
		name TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		hash TEXT,
		size INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

// ModelRow is one locally downloaded model artifact.
type ModelRow struct {
	Name      string
	Path      string
	Hash      string
	Size      int64
	CreatedAt int64
	UpdatedAt int64
}

// UpsertModel records (or refreshes) the local copy of a model. The original
// created_at is preserved so ListModels keeps first-download order.
func (db *DB) UpsertModel(row ModelRow) error {
	if row.Name == "" {
		return errors.New("model name required")
	}
	now := time.Now().Unix()
	_, err := db.SQL.Exec(`INSERT INTO models(name, path, hash, size, created_at, updated_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET path=excluded.path, hash=excluded.hash, size=excluded.size, updated_at=excluded.updated_at`,
		row.Name, row.Path, row.Hash, row.Size, now, now)
	return err
}

func (db *DB) GetModel(name string) (ModelRow, error) {
	var r ModelRow
	err := db.SQL.QueryRow(`SELECT name, path, COALESCE(hash, ''), COALESCE(size, 0), created_at, updated_at
		FROM models WHERE name=?`, name).
		Scan(&r.Name, &r.Path, &r.Hash, &r.Size, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRow{}, ErrNoRow
	}
	return r, err
}

// DeleteModel removes the registry entry; ErrNoRow if it did not exist.
func (db *DB) DeleteModel(name string) error {
	res, err := db.SQL.Exec(`DELETE FROM models WHERE name=?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRow
	}
	return nil
}

// ListModels returns all entries, oldest download first.
func (db *DB) ListModels() ([]ModelRow, error) {
	rows, err := db.SQL.Query(`SELECT name, path, COALESCE(hash, ''), COALESCE(size, 0), created_at, updated_at
		FROM models
		ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ModelRow
	for rows.Next() {
		var r ModelRow
		if err := rows.Scan(&r.Name, &r.Path, &r.Hash, &r.Size, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
