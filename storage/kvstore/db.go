package kvstore

import (
	"embed"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const MigrationsDir = "migrations"

// Open opens (creating if needed) the sqlite database at path and checks the connection.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening kv store")
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, wrapErr(err, "pinging kv store")
	}
	return db, nil
}

// InitGoose points goose at the embedded migrations.
func InitGoose() error {
	goose.SetBaseFS(migrations)
	return errors.Wrap(goose.SetDialect("sqlite3"), "setting goose dialect")
}

// Migrate applies every pending migration.
func Migrate(db *sqlx.DB) error {
	if err := InitGoose(); err != nil {
		return err
	}
	return errors.Wrap(goose.Up(db.DB, MigrationsDir), "migrating kv store")
}
