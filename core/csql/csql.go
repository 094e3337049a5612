/*Package csql wraps the catalog's SQLite database.

The database runs in WAL mode with a busy timeout, so concurrent writers
retry on lock contention instead of failing immediately.
*/
package csql

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3" // load database driver for sqlite

	"github.com/gt3pedia/backend/core/logger"
)

// DB encapsulates a standard sql.DB
type DB struct {
	*sql.DB
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

const pragmas = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

// Open opens the catalog sqlite database at the given path. Foreign keys,
// WAL journaling and the busy timeout are configured on every connection.
func Open(dataSourceName string) (*DB, error) {
	logger.Default().Infoln("connecting to sqlite database:", dataSourceName)
	if strings.ContainsRune(dataSourceName, '?') {
		dataSourceName += "&" + pragmas
	} else {
		dataSourceName += "?" + pragmas
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db}, nil
}

// MustOpen is like Open, but panics on error.
func MustOpen(dataSourceName string) *DB {
	db, err := Open(dataSourceName)
	if err != nil {
		panic(err)
	}
	return db
}

// IsDuplicateColumn reports whether err is sqlite's complaint about adding
// a column that already exists. Table evolution at startup re-issues ALTER
// TABLE statements for all declared columns and must tolerate this one
// error; anything else is a real fault.
func IsDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// IsUniqueViolation reports whether err is sqlite's unique constraint
// violation. The backend checks uniqueness explicitly before writing, but
// the constraint can still fire under concurrent writes; both paths end in
// the same conflict answer.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
