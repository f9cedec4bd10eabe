package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a run or alert does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would leave two open alerts
	// with the same fingerprint.
	ErrConflict = errors.New("open alert already exists for fingerprint")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("persistence failed")
)

// PersistenceError wraps a failed storage operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
