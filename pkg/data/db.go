package data

import (
	"database/sql"
	"embed"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "journal.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

var (
	//go:embed sql/*
	f embed.FS

	ErrDBNotInitialized = errors.New("database not initialized")
)

// DB is a journal connection that knows its SQL dialect.
type DB struct {
	*sql.DB
	driver string
}

// Driver returns the database/sql driver name.
func (d *DB) Driver() string {
	return d.driver
}

// rebind rewrites ? placeholders to $n for postgres.
func (d *DB) rebind(q string) string {
	if d.driver != driverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DriverFor returns the driver for a DSN: postgres URLs use lib/pq,
// anything else is treated as a SQLite file path.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres
	}
	return driverSQLite
}

// Init creates the journal schema if it does not exist.
func Init(dsn string) error {
	if dsn == "" {
		return errors.New("dsn not specified")
	}

	db, err := GetDB(dsn)
	if err != nil {
		return errors.Wrapf(err, "error opening database: %s", redact(dsn))
	}
	defer db.Close()

	b, err := f.ReadFile("sql/ddl.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read the schema creation file")
	}
	if _, err := db.Exec(string(b)); err != nil {
		return errors.Wrapf(err, "failed to create database schema in: %s", redact(dsn))
	}
	slog.Debug("journal schema ready", "driver", db.driver)

	return nil
}

// GetDB opens the journal. SQLite journals use a single connection with a
// busy timeout so concurrent writers queue instead of failing with
// SQLITE_BUSY.
func GetDB(dsn string) (*DB, error) {
	driver := DriverFor(dsn)
	source := dsn
	if driver == driverSQLite {
		source = sqliteSource(dsn)
	}
	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", redact(dsn))
	}
	if driver == driverSQLite {
		conn.SetMaxOpenConns(1)
	}
	return &DB{DB: conn, driver: driver}, nil
}

// sqliteSource appends the connection pragmas to a SQLite path.
func sqliteSource(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqlitePragmas
}

// redact drops the password from a postgres URL for logging.
func redact(dsn string) string {
	if DriverFor(dsn) != driverPostgres {
		return dsn
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		creds = creds[:i] + ":***"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}
