package services

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidSubjectKey = errors.New("invalid subject key")
)

// AdmissionError rejects a submission before anything is written. Kind is
// ErrPermissionDenied or ErrInvalidSubjectKey.
type AdmissionError struct {
	Kind       error
	SubjectKey string
	// Permission is the missing permission when Kind is ErrPermissionDenied.
	Permission string
	Reason     string
}

func (e *AdmissionError) Error() string {
	switch {
	case e.Permission != "":
		return fmt.Sprintf("submission for %q rejected: %v: %s required", e.SubjectKey, e.Kind, e.Permission)
	case e.Reason != "":
		return fmt.Sprintf("submission for %q rejected: %v: %s", e.SubjectKey, e.Kind, e.Reason)
	default:
		return fmt.Sprintf("submission for %q rejected: %v", e.SubjectKey, e.Kind)
	}
}

func (e *AdmissionError) Unwrap() error { return e.Kind }

// SubjectCreationError reports a subject that could not be created or provisioned
// on first submission. No payload has been written when it is returned.
type SubjectCreationError struct {
	SubjectKey string
	Branch     string
	Err        error
}

func (e *SubjectCreationError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("create subject %q branch %q: %v", e.SubjectKey, e.Branch, e.Err)
	}
	return fmt.Sprintf("create subject %q: %v", e.SubjectKey, e.Err)
}

func (e *SubjectCreationError) Unwrap() error { return e.Err }
