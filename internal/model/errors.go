package model

import (
	"errors"
	"fmt"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrQRNotAvailable      = errors.New("qr code not available")
	ErrDuplicateInstance   = errors.New("instance already exists")
	ErrUnknownInstance     = errors.New("unknown instance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	// ErrStatusConflict means a conditional status write found a different status than expected.
	ErrStatusConflict = errors.New("instance status changed concurrently")
	ErrInvalidInput        = errors.New("invalid input")
	ErrStore               = errors.New("store error")
)

// StoreError wraps a backend-specific persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// NewStoreError wraps err unless it is nil or already a domain condition.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateInstance) || errors.Is(err, ErrUnknownInstance) ||
		errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrStore) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
