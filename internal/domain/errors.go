package domain

import "errors"

// Failure taxonomy for the trading engine. Callers branch with errors.Is;
// wrapped messages carry the detail.
var (
	// ErrUnauthorized is returned when the actor is not an admin.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation covers malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrCapacityExceeded is returned when the active set (open positions
	// plus in-flight reservations) is full.
	ErrCapacityExceeded = errors.New("position capacity exceeded")

	// ErrRiskViolation is returned when a proposed trade breaks a
	// portfolio limit or the signal grade is untradeable.
	ErrRiskViolation = errors.New("risk limit violated")

	// ErrPriceUnavailable is returned when no feed can quote the token.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrExecutionFailure is returned when the venue rejects or fails
	// the order.
	ErrExecutionFailure = errors.New("execution failed")

	// ErrKeyDerivation is returned when the master secret is absent or
	// key material cannot be derived.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrSecureKey is returned when an encrypted key blob cannot be
	// decrypted or is corrupt. The message never echoes secrets.
	ErrSecureKey = errors.New("secure key operation failed")

	// ErrPersistence is returned when a state write fails; the in-memory
	// mutation it covered has been rolled back.
	ErrPersistence = errors.New("persistence failed")

	// ErrTreasuryProtected is returned when deletion of a treasury
	// wallet is attempted.
	ErrTreasuryProtected = errors.New("treasury wallet is protected")

	// ErrPositionNotFound is returned for lookups of unknown position ids.
	ErrPositionNotFound = errors.New("position not found")

	// ErrWalletNotFound is returned for lookups of unknown addresses.
	ErrWalletNotFound = errors.New("wallet not found")
)
