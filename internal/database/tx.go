package database

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// maxTxAttempts bounds how many times a conflicting transaction body
// is re-executed before the conflict is surfaced to the caller.
const maxTxAttempts = 5

// ErrTxAttemptsExhausted is returned by WrapRetryableTx when every attempt
// of the transaction body failed with a transient conflict.
var ErrTxAttemptsExhausted = errors.New("transaction retry attempts exhausted")

// WrapTx starts a transaction against the provided DB, and then calls the user
// provided function. If this function errors, the transaction is rolled back - otherwise
// the transaction is committed.
func WrapTx(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		dbLogger.Errorf("Transaction failed... rolling back. Error: %s\n", err.Error())
		return err
	}

	return tx.Commit()
}

// WrapRetryableTx behaves like WrapTx, except that transient conflicts
// (serialization failures and deadlocks reported by Postgres) cause the entire
// transaction body to be re-executed, up to a bounded number of attempts.
//
// The body MUST therefore be safe to run multiple times: any in-memory state it
// mutates must be reset by the caller before each attempt (see the snapshot
// helpers in the video package).
func WrapRetryableTx(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := WrapTx(db, f)
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return err
		}

		dbLogger.Warnf("Transaction attempt (%d/%d) hit a transient conflict: %s\n", attempt, maxTxAttempts, err.Error())
	}

	return ErrTxAttemptsExhausted
}

// IsTransientError reports whether the given error represents a conflict which
// a retried transaction could reasonably expect to avoid: a serialization
// failure (40001) or a deadlock (40P01).
func IsTransientError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}

	return false
}
