package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tmcalister/rampart/internal/models"
)

// MapPostgresError translates driver errors into the engine's sentinel
// taxonomy. The constraint cases mirror what the schema actually
// declares; anything else passes through for the caller to wrap.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505":
		// unique_violation: the one-active-alert-per-type index or a
		// duplicate account email
		return models.ErrConflict
	case "23503":
		// foreign_key_violation: a ledger row, emergency code, or audit
		// entry written against an account that no longer exists
		return models.ErrNotFound
	case "23502":
		// not_null_violation
		return models.ErrBadRequest
	}

	return err
}

// WithTransaction runs fn inside a transaction, committing on a nil
// return and rolling back on error or panic. Used where one logical
// write spans rows, e.g. inserting an emergency-code batch.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
