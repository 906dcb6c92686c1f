package sqlstore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/points-engine/loyalty"
)

// PostgreSQL SQLSTATE codes treated as contention.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// mapErr wraps driver errors that mean "another unit of work got there
// first" with loyalty.ErrStorageConflict. Unique violations only happen
// when two units race to create the same wallet row or entry sequence.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if isContention(err) {
		return fmt.Errorf("%w: %w", loyalty.ErrStorageConflict, err)
	}
	return err
}

func isContention(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy,
			sqliteErr.Code == sqlite3.ErrLocked,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}
	return false
}
