package constants

import "errors"

// Errors
var (
	ErrIDInUse         = errors.New("id already in use")
	ErrUnknownID       = errors.New("no pending request for id")
	ErrAlreadyResolved = errors.New("pending result already resolved")
	ErrTimeout         = errors.New("timeout")
	ErrNoURL           = errors.New("url not set")
	ErrUnknownEngine   = errors.New("unknown websocket engine")
	ErrNoNamespaceOrDB = errors.New("namespace or database or both are not set")

	ErrConnectionClosed = errors.New("connection closed")
	ErrPoolClosed       = errors.New("pool closed")
	ErrPoolExhausted    = errors.New("pool has no live workers")

	ErrMismatchedMigrations = errors.New("up and down migration counts differ")
	ErrMigrationNumbering   = errors.New("migration files are not numbered 1..n")
	ErrVersionAhead         = errors.New("database version is ahead of the defined migrations")
	ErrInvalidTable         = errors.New("invalid table name")
)
