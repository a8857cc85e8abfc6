package snapper

import "fmt"

// CreationError is returned when the snapshot itself could not be created.
// Cleaning never runs after a CreationError.
type CreationError struct {
	Subvolume   string
	Destination string
	Err         error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create snapshot of %s at %s: %v", e.Subvolume, e.Destination, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// DeletionError is one failed deletion of a cleaning pass.
type DeletionError struct {
	Path string
	Err  error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("delete snapshot %s: %v", e.Path, e.Err)
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}
