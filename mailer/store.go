package mailer

import (
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq" // require for Open postgres
	_ "modernc.org/sqlite"
)

// Property keys.
const (
	KeyEmailAddress = "email.email_address"
	KeyPassword     = "email.password"
	KeyAlias        = "email.alias"
	KeyLastReminder = "email.last_reminder"
)

// PropertyStore is a persistent string key/value store.
type PropertyStore interface {
	// GetProperty returns the value of key; ok is false if it was never set.
	GetProperty(key string) (value string, ok bool, err error)
	SetProperty(key, value string) error
	Close() error
}

// OpenStore opens the property store selected by config, routing the
// password into the OS keyring when config.UseKeyring is set.
func OpenStore(config *Config) (PropertyStore, error) {
	var store PropertyStore
	var err error
	switch config.StoreDriver {
	case StoreSQLite, "":
		store, err = openSQLiteStore(config.StorePath)
	case StorePostgres:
		store, err = openPostgresStore(config)
	case StoreBolt:
		store, err = openBoltStore(config.StorePath)
	default:
		return nil, errors.Newf("unknown store driver %q", config.StoreDriver)
	}
	if err != nil {
		return nil, err
	}
	if config.UseKeyring {
		store = newKeyringStore(store, config.KeyringService)
	}
	return store, nil
}

// sqlStore keeps properties in a single table.  The two statements differ
// per driver only in their placeholder syntax.
type sqlStore struct {
	db        *sql.DB
	selectSQL string
	upsertSQL string
}

const createPropertiesTable = `create table if not exists properties (` +
	` key text primary key,` +
	` value text not null)`

func newSQLStore(db *sql.DB, selectSQL, upsertSQL string) (*sqlStore, error) {
	_, err := db.Exec(createPropertiesTable)
	if err != nil {
		err2 := db.Close()
		return nil, appendError(errors.Wrap(err, "failed to create properties table"), errors.WithStack(err2))
	}
	return &sqlStore{db: db, selectSQL: selectSQL, upsertSQL: upsertSQL}, nil
}

// openSQLiteStore opens a sqlite file; an empty path keeps the store in
// memory.
func openSQLiteStore(path string) (*sqlStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite store")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return newSQLStore(db,
		`select value from properties where key = ?`,
		`insert into properties (key, value) values (?, ?) `+
			`on conflict (key) do update set value = excluded.value`)
}

// openPostgresStore connects to the database described by config.
func openPostgresStore(config *Config) (*sqlStore, error) {
	connStr := "host=" + config.DbHost +
		" user=" + config.DbUser +
		" password=" + config.DbPassword +
		" dbname=" + config.DbName +
		" sslmode=" + config.DbSSLMode
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	err = db.Ping()
	if err != nil {
		err2 := db.Close()
		return nil, appendError(errors.WithStack(err), errors.WithStack(err2))
	}
	return newSQLStore(db,
		`select value from properties where key = $1`,
		`insert into properties (key, value) values ($1, $2) `+
			`on conflict (key) do update set value = excluded.value`)
}

func (s *sqlStore) GetProperty(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(s.selectSQL, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.WithStack(err)
	}
	return value, true, nil
}

func (s *sqlStore) SetProperty(key, value string) error {
	_, err := s.db.Exec(s.upsertSQL, key, value)
	return errors.WithStack(err)
}

func (s *sqlStore) Close() error {
	return errors.WithStack(s.db.Close())
}
