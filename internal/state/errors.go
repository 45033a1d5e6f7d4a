package state

import "errors"

// Sentinel errors shared by all ledgers. Callers classify failures with
// errors.Is; wrapped messages carry the offending id/asset.
var (
	ErrNotInitialized     = errors.New("risk ledger: not initialized")
	ErrAlreadyInitialized = errors.New("risk ledger: already initialized")
	ErrUnauthorized       = errors.New("risk ledger: unauthorized caller")
	ErrNotFound           = errors.New("risk ledger: not found")
	ErrInvalidState       = errors.New("risk ledger: invalid state")
	ErrExpired            = errors.New("risk ledger: expired")
	ErrBelowMinimum       = errors.New("risk ledger: below minimum output")
	ErrPriceJumpExceeded  = errors.New("risk ledger: price jump exceeds limit")
	ErrInvalidAmount      = errors.New("risk ledger: invalid amount")
)
