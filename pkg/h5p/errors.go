package h5p

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrContentNotFound indicates a content was not found
	ErrContentNotFound = errors.New("content not found")

	// ErrLibraryNotFound indicates the requested library is not installed
	ErrLibraryNotFound = errors.New("library not found")

	// ErrInvalidLibrary indicates a library string that is not "Machine.Name major.minor"
	ErrInvalidLibrary = errors.New("invalid library")

	// ErrInvalidParams indicates content params that are not a JSON document
	ErrInvalidParams = errors.New("invalid content params")

	// ErrInvalidPackage indicates an uploaded archive that is not a valid .h5p package
	ErrInvalidPackage = errors.New("invalid h5p package")

	// ErrBlobNotFound indicates a missing object in a blob store
	ErrBlobNotFound = errors.New("blob not found")
)

// ContentError represents an error related to content operations
type ContentError struct {
	ContentID int64
	Op        string
	Err       error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content operation %s failed for content %d: %v", e.Op, e.ContentID, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
