package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
)

var nowFunc = time.Now // mockable

// Store is the client-side key-value storage.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// wrapErr annotates err. Failures that leave the database file unusable become core.ShutdownError.
func wrapErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrIoErr, sqlite3.ErrReadonly, sqlite3.ErrFull, sqlite3.ErrCantOpen:
			return core.NewShutdownError(err, "local store: "+fmt.Sprintf(format, args...))
		}
	}
	return errors.Wrapf(err, format, args...)
}

type entry struct {
	Key       string    `db:"name"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get returns the value of key or core.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE name = ?`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", core.ErrNotFound
		}
		return "", wrapErr(err, "getting %q", key)
	}
	return value, nil
}

// Set inserts or replaces key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("setting value: empty key")
	}
	e := entry{Key: key, Value: value, UpdatedAt: nowFunc().UTC()}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO kv (name, value, updated_at) VALUES (:name, :value, :updated_at)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, e)
	return wrapErr(err, "setting %q", key)
}

// Delete removes keys; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM kv WHERE name IN (?)`, keys)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return wrapErr(err, "deleting keys")
}

// Keys lists the keys starting with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	err := s.db.SelectContext(ctx, &keys, `SELECT name FROM kv WHERE name LIKE ? ESCAPE '\' ORDER BY name`, pattern)
	return keys, wrapErr(err, "listing keys")
}

// UpdatedAt returns when key was last written.
func (s *Store) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var e entry
	err := s.db.GetContext(ctx, &e, `SELECT name, value, updated_at FROM kv WHERE name = ?`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, core.ErrNotFound
		}
		return time.Time{}, wrapErr(err, "getting %q", key)
	}
	return e.UpdatedAt, nil
}
