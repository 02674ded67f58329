package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// Errors names the domain errors a repository reports for common
// database failures. A nil field leaves the matching failure unchanged.
type Errors struct {
	NotFound  error
	Duplicate error
	Invalid   error
}

// Map translates err to the matching domain error. sql.ErrNoRows maps to
// NotFound, a unique violation to Duplicate, and check or foreign key
// violations to Invalid. Other errors are returned unchanged.
func (e Errors) Map(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) && e.NotFound != nil {
		return e.NotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		if e.Duplicate != nil {
			return e.Duplicate
		}
	case pgForeignKeyViolation, pgCheckViolation:
		if e.Invalid != nil {
			return e.Invalid
		}
	}

	return err
}

// MapError translates sql.ErrNoRows to notFoundErr and a unique violation
// to duplicateErr.
func MapError(err error, notFoundErr, duplicateErr error) error {
	return Errors{NotFound: notFoundErr, Duplicate: duplicateErr}.Map(err)
}
