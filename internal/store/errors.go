package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrRejected is the root of every validation rejection. Rejected calls
// write nothing.
var ErrRejected = errors.New("rejected")

var (
	ErrEmptyText       = fmt.Errorf("%w: text is empty", ErrRejected)
	ErrDifficultyRange = fmt.Errorf("%w: difficulty must be between 1 and 5", ErrRejected)
	ErrMissingAnswer   = fmt.Errorf("%w: answer id is required", ErrRejected)
	ErrUnknownQuestion = fmt.Errorf("%w: question does not exist", ErrRejected)
	ErrUnknownAnswer   = fmt.Errorf("%w: answer does not exist", ErrRejected)
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotInitialized means the database file or its tables are missing.
	ErrNotInitialized = errors.New("database not initialized")
)

func now() time.Time {
	return time.Now().UTC()
}

// classify maps driver errors for missing tables to ErrNotInitialized.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return constraintViolation(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return constraintViolation(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY constraint failed")
}

func constraintViolation(err error, extended int, marker string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == extended {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), marker)
}
