package models

import "errors"

var (
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrSeatUnavailable   = errors.New("seat unavailable")
	ErrConflict          = errors.New("conflict")
	ErrHoldExpired       = errors.New("hold expired")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrQueueFull         = errors.New("admission queue full")
	ErrLockTimeout       = errors.New("lock wait timeout")

	// ErrInventoryMismatch means the ledger and the inventory disagree about
	// what a reservation holds. It is never retried.
	ErrInventoryMismatch = errors.New("ledger and inventory disagree")

	ErrReconfigureUnconfirmed = errors.New("reconfigure not confirmed")
	ErrSeatedCapacityEdit     = errors.New("seated zone capacity follows its layout")
)
