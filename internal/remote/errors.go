package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteSync is matched by every *SyncError.
	ErrRemoteSync = errors.New("remote sync failed")
	// ErrUploadsDisabled is returned by writes while the store is in
	// read-only mode.  Callers log it and carry on.
	ErrUploadsDisabled = errors.New("remote uploads disabled")
	// ErrObjectNotFound is returned by backends for an unknown id.
	ErrObjectNotFound = errors.New("remote object not found")
)

// SyncError records which remote operation failed and on what.
type SyncError struct {
	Op   string
	Name string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) Is(target error) bool { return target == ErrRemoteSync }
