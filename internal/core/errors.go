package core

import "errors"

var (
	// ErrConfiguration is returned when a table definition or configuration
	// is internally inconsistent.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidIdentifier is returned for a table or column name that cannot
	// be safely interpolated into SQL.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrSchemaUpgrade wraps any failure while applying schema DDL.
	ErrSchemaUpgrade = errors.New("schema upgrade failed")

	// ErrDowngrade is reported when the stored version is newer than the
	// declared one.
	ErrDowngrade = errors.New("stored schema version is newer than the definition")

	// ErrQuery wraps executor errors on read paths.
	ErrQuery = errors.New("query failed")

	// ErrWriteFailed wraps executor errors on insert, update and delete.
	ErrWriteFailed = errors.New("write failed")

	// ErrDuplicateKey is returned when an insert violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTableNotReady is returned by gated CRUD calls while the upgrader has
	// not reached the ready state.
	ErrTableNotReady = errors.New("table is not ready")

	// ErrEmptyCondition is returned by update and delete calls without a
	// where clause.
	ErrEmptyCondition = errors.New("empty condition")

	// ErrOptionNotFound is returned by option stores for absent keys.
	ErrOptionNotFound = errors.New("option not found")

	// ErrAlreadyLocked is returned when a lock is held by someone else.
	ErrAlreadyLocked = errors.New("already locked")
)
