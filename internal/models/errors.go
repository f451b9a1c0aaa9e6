package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound        = errors.New("account not found")
	ErrConflict        = errors.New("account already exists")
	ErrBadRequest      = errors.New("bad request")
	ErrNoHostAvailable = errors.New("no responsible host available")
	ErrStableStore     = errors.New("stable store failure")

	// Ledger errors
	ErrMalformedLedgerEntry = errors.New("malformed ledger entry")
	ErrLedgerKeyUnavailable = errors.New("ledger key cannot be unsealed")
)
