package files

import (
	"errors"
	"fmt"

	"homeserver/internal/models"
)

var (
	ErrInvalidPath        = models.ErrInvalidPath
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrDirectoryNotFound  = fmt.Errorf("directory %w", ErrNotFound)
	ErrContentMismatch    = errors.New("content does not match the declared length or hash")
	ErrTooLarge           = errors.New("file exceeds the maximum size")
	ErrRangeNotSatisfied  = errors.New("requested range not satisfiable")
	ErrStreamAborted      = errors.New("upload stream aborted")
	ErrStorageIO          = errors.New("storage i/o error")
	ErrConsistency        = errors.New("storage consistency error")
	errServiceUnavailable = errors.New("file service is not configured")
)

func storageIO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageIO, op, err)
}

// classify keeps classified errors as they are and marks everything
// else as a storage failure.
func classify(op string, err error) error {
	for _, known := range []error{
		ErrInvalidPath, ErrUnauthorized, ErrNotFound, ErrContentMismatch, ErrTooLarge,
		ErrRangeNotSatisfied, ErrStreamAborted, ErrStorageIO, ErrConsistency,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return storageIO(op, err)
}
