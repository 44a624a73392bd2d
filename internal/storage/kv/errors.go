package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when a key is absent or its deadline passed.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrCorruptValue is returned when a stored envelope cannot be decoded.
	ErrCorruptValue = errors.New("corrupt value envelope")

	// ErrUnknownBackend is returned by Open for an unregistered backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// StoreError wraps a backend failure with the operation and backend name.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("kv %s: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Backend: backend, Err: err}
}

// IsNotFound reports whether err indicates a missing or expired key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
