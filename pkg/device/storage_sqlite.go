package device

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStorage persists items in a sqlite kv table, for desktop embeddings
// that already carry a sqlite database.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = &SQLiteStorage{}

func NewSQLiteStorage(dsn string) (*SQLiteStorage, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite storage: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS widget_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return errors.Wrap(err, "sqlite storage: migrate")
}

func (s *SQLiteStorage) GetItem(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("sqlite storage: db is nil")
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM widget_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "sqlite storage: get")
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite storage: db is nil")
	}
	_, err := s.db.Exec(
		`INSERT INTO widget_kv(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrap(err, "sqlite storage: set")
}
