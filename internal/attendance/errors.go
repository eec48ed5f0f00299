package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced student or class does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation is returned when a uniqueness constraint rejects a write.
	ErrConstraintViolation = errors.New("constraint violated")
	// ErrInvalid is returned when input fails field validation.
	ErrInvalid = errors.New("invalid input")
)

// StorageError reports a failed persistence operation. The transaction it
// happened in has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr passes sentinel errors through and wraps everything else.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrInvalid) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
