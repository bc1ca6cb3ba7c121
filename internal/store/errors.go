package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a thread name or id that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRole reports a message role outside {human, ai}.
	ErrInvalidRole = errors.New("invalid role")
)

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
