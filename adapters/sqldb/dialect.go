package sqldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/heianxing/axon-demo/core/es"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Dialect holds what differs between the supported databases: the driver
// name, the schema and the way a uniqueness violation is reported.
type Dialect struct {
	Driver string

	schema         func(events, snapshots string) []string
	isDuplicateKey func(err error) bool
}

var (
	SQLite = Dialect{
		Driver: "sqlite",
		schema: func(events, snapshots string) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        TEXT    NOT NULL PRIMARY KEY,
	aggregate_type  TEXT    NOT NULL,
	aggregate_id    TEXT    NOT NULL,
	sequence_number INTEGER NOT NULL,
	time_stamp      INTEGER NOT NULL,
	payload_type    TEXT    NOT NULL,
	payload         BLOB    NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, sequence_number)
)`, events),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_scan_idx ON %[1]s (time_stamp, sequence_number, event_id)`, events),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        TEXT    NOT NULL,
	aggregate_type  TEXT    NOT NULL,
	aggregate_id    TEXT    NOT NULL,
	sequence_number INTEGER NOT NULL,
	time_stamp      INTEGER NOT NULL,
	payload_type    TEXT    NOT NULL,
	payload         BLOB    NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id, sequence_number)
)`, snapshots),
			}
		},
		isDuplicateKey: isSQLiteUniqueViolation,
	}

	Postgres = Dialect{
		Driver: "postgres",
		schema: func(events, snapshots string) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        TEXT   NOT NULL PRIMARY KEY,
	aggregate_type  TEXT   NOT NULL,
	aggregate_id    TEXT   NOT NULL,
	sequence_number BIGINT NOT NULL,
	time_stamp      BIGINT NOT NULL,
	payload_type    TEXT   NOT NULL,
	payload         BYTEA  NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, sequence_number)
)`, events),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_scan_idx ON %[1]s (time_stamp, sequence_number, event_id)`, events),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        TEXT   NOT NULL,
	aggregate_type  TEXT   NOT NULL,
	aggregate_id    TEXT   NOT NULL,
	sequence_number BIGINT NOT NULL,
	time_stamp      BIGINT NOT NULL,
	payload_type    TEXT   NOT NULL,
	payload         BYTEA  NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id, sequence_number)
)`, snapshots),
			}
		},
		isDuplicateKey: isPostgresUniqueViolation,
	}

	MySQL = Dialect{
		Driver: "mysql",
		schema: func(events, snapshots string) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        VARCHAR(64)  NOT NULL PRIMARY KEY,
	aggregate_type  VARCHAR(191) NOT NULL,
	aggregate_id    VARCHAR(191) NOT NULL,
	sequence_number BIGINT       NOT NULL,
	time_stamp      BIGINT       NOT NULL,
	payload_type    VARCHAR(255) NOT NULL,
	payload         LONGBLOB     NOT NULL,
	UNIQUE KEY %[1]s_seq_uq (aggregate_type, aggregate_id, sequence_number),
	INDEX %[1]s_scan_idx (time_stamp, sequence_number, event_id)
)`, events),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id        VARCHAR(64)  NOT NULL,
	aggregate_type  VARCHAR(191) NOT NULL,
	aggregate_id    VARCHAR(191) NOT NULL,
	sequence_number BIGINT       NOT NULL,
	time_stamp      BIGINT       NOT NULL,
	payload_type    VARCHAR(255) NOT NULL,
	payload         LONGBLOB     NOT NULL,
	PRIMARY KEY (aggregate_type, aggregate_id, sequence_number)
)`, snapshots),
			}
		},
		isDuplicateKey: isMySQLUniqueViolation,
	}
)

// DialectFor maps a driver name, as used in configuration, to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("%w: unsupported sql driver %q", es.ErrIllegalArgument, driver)
}

func (d Dialect) String() string { return d.Driver }

// IsDuplicateKey reports whether err is a uniqueness violation in this dialect.
func (d Dialect) IsDuplicateKey(err error) bool {
	return err != nil && d.isDuplicateKey != nil && d.isDuplicateKey(err)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return false
}

func isMySQLUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}
	return false
}
