package transaction

import (
	"fmt"
	"strings"
)

// Isolation is a transaction isolation level.
type Isolation int

const (
	// IsolationDefault leaves the server's isolation level alone.
	IsolationDefault Isolation = iota
	ReadUncommitted
	ReadCommitted
	RepeatableRead
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ParseIsolation accepts "uncommitted", "committed", "repeatable",
// "serializable" (and the full SQL spellings). Empty means IsolationDefault.
func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return IsolationDefault, nil
	case "uncommitted", "read uncommitted":
		return ReadUncommitted, nil
	case "committed", "read committed":
		return ReadCommitted, nil
	case "repeatable", "repeatable read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	}
	return IsolationDefault, fmt.Errorf("transaction: unknown isolation level %q", s)
}

// Dialect supplies the statements the manager issues.
type Dialect struct {
	Name string

	Begin    string
	Commit   string
	Rollback string

	// SupportsSavepoints enables nested transactions through savepoints.
	SupportsSavepoints bool

	// SupportsIsolation enables SET TRANSACTION ISOLATION LEVEL.
	SupportsIsolation bool

	// IsolationBeforeBegin issues the isolation statement before Begin, for
	// servers where it applies to the next transaction only.
	IsolationBeforeBegin bool

	// SupportsPreparedTransactions enables two-phase commit.
	SupportsPreparedTransactions bool
}

// DefaultDialect is ANSI/PostgreSQL flavoured.
func DefaultDialect() Dialect {
	return Dialect{
		Name:                         "postgres",
		Begin:                        "BEGIN",
		Commit:                       "COMMIT",
		Rollback:                     "ROLLBACK",
		SupportsSavepoints:           true,
		SupportsIsolation:            true,
		SupportsPreparedTransactions: true,
	}
}

// MySQLDialect sets the isolation level ahead of BEGIN.
func MySQLDialect() Dialect {
	return Dialect{
		Name:                 "mysql",
		Begin:                "BEGIN",
		Commit:               "COMMIT",
		Rollback:             "ROLLBACK",
		SupportsSavepoints:   true,
		SupportsIsolation:    true,
		IsolationBeforeBegin: true,
	}
}

// SQLiteDialect has savepoints but no isolation levels.
func SQLiteDialect() Dialect {
	return Dialect{
		Name:               "sqlite",
		Begin:              "BEGIN",
		Commit:             "COMMIT",
		Rollback:           "ROLLBACK",
		SupportsSavepoints: true,
	}
}

// DialectFor returns the dialect registered under name ("postgres", "pgx",
// "mysql", "sqlite"), falling back to DefaultDialect.
func DialectFor(name string) Dialect {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return MySQLDialect()
	case "sqlite", "sqlite3":
		return SQLiteDialect()
	default:
		return DefaultDialect()
	}
}

func savepointName(depth int) string {
	return fmt.Sprintf("autopoint_%d", depth)
}

func (d Dialect) savepoint(depth int) string {
	return "SAVEPOINT " + savepointName(depth)
}

func (d Dialect) releaseSavepoint(depth int) string {
	return "RELEASE SAVEPOINT " + savepointName(depth)
}

func (d Dialect) rollbackToSavepoint(depth int) string {
	return "ROLLBACK TO SAVEPOINT " + savepointName(depth)
}

func (d Dialect) isolation(level Isolation) string {
	return "SET TRANSACTION ISOLATION LEVEL " + level.String()
}

func (d Dialect) prepare(id string) string {
	return "PREPARE TRANSACTION " + quote(id)
}

func (d Dialect) commitPrepared(id string) string {
	return "COMMIT PREPARED " + quote(id)
}

func (d Dialect) rollbackPrepared(id string) string {
	return "ROLLBACK PREPARED " + quote(id)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
