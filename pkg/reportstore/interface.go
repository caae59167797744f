package reportstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
)

var (
	// ErrNotStaged is returned when opening a handle whose payload does not exist.
	ErrNotStaged = errors.New("payload not staged")

	// ErrInvalidID is returned for task ids that cannot name a storage location.
	ErrInvalidID = errors.New("invalid task id")
)

// Store is the staging area for raw task payloads, keyed by task id.
// Implementations must be safe for concurrent calls on different ids.
type Store interface {
	// Save copies r to stable storage at a location derived only from taskID. r is
	// always closed. On failure nothing is left behind and the error is *StagingError.
	Save(ctx context.Context, taskID string, r io.ReadCloser) error

	// Fetch returns a handle on the payload without checking that it exists.
	Fetch(taskID string) Handle

	// Delete removes the payload. A missing payload is not an error.
	Delete(ctx context.Context, taskID string) error

	// DeleteAll clears the whole staging area.
	DeleteAll(ctx context.Context) error

	// ListIDs returns the staged ids, sorted. A missing staging area yields an empty list.
	ListIDs(ctx context.Context) ([]string, error)

	Health(ctx context.Context) error
	Close() error
}

// Handle refers to one staged payload. Existence is checked lazily.
type Handle interface {
	ID() string
	Location() string
	Exists(ctx context.Context) (bool, error)
	// Open returns the payload, or ErrNotStaged when it is missing.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// StagingError reports a payload that could not be written to Destination.
type StagingError struct {
	Destination string
	Err         error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("stage payload to %s: %v", e.Destination, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateID rejects ids that are empty, too long or could escape the staging area.
func ValidateID(taskID string) error {
	if !idPattern.MatchString(taskID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, taskID)
	}
	return nil
}
