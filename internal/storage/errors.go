package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no blob exists at the key.
	ErrNotFound = errors.New("evidence blob not found")

	// ErrInvalidKey means the key is empty, absolute or escapes the store.
	ErrInvalidKey = errors.New("invalid evidence key")

	// ErrTooLarge means the blob exceeds the configured per-file ceiling.
	ErrTooLarge = errors.New("evidence blob exceeds maximum size")

	// ErrAccessDenied means the backend refused the credentials.
	ErrAccessDenied = errors.New("blob store access denied")
)

// StorageError records the operation and key of a failed blob operation.
type StorageError struct {
	Op  string // Put, Get, Delete, URL or Exists
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the blob is missing. The evidence
// pipeline treats a missing blob as unavailable data, not a failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidKey reports whether err is a rejected key.
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}

// IsTooLarge reports whether err is an oversized blob.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrTooLarge)
}
