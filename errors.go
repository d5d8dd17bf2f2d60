package bookpipe

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the bookpipe package.
var (
	// ErrUnsupportedFormat indicates the uploaded file extension is not
	// one of .epub, .html or .htm.
	ErrUnsupportedFormat = errors.New("bookpipe: unsupported file format")

	// ErrStorage indicates the book's storage directory or source file
	// could not be created or read.
	ErrStorage = errors.New("bookpipe: storage error")

	// ErrPersistence indicates the processed book could not be written to
	// or read from the persistence gateway.
	ErrPersistence = errors.New("bookpipe: persistence error")

	// ErrInvalidEPub indicates the archive is not a structurally valid ePub
	// (for example, missing container.xml or OPF).
	ErrInvalidEPub = errors.New("bookpipe: invalid ePub file")

	// ErrDRMProtected indicates the ePub content is encrypted.
	ErrDRMProtected = errors.New("bookpipe: file is DRM protected")

	// ErrFileNotFound indicates a requested entry does not exist in the archive.
	ErrFileNotFound = errors.New("bookpipe: file not found in archive")

	// ErrBookNotFound indicates the catalog has no row for the book id.
	ErrBookNotFound = errors.New("bookpipe: book not found")
)

// Stage names the pipeline stage a ProcessError originated from.
type Stage string

const (
	StageUnsupportedFormat Stage = "UnsupportedFormat"
	StageStorage           Stage = "StorageError"
	StagePersistence       Stage = "PersistenceError"
	StageCanceled          Stage = "Canceled"
)

// ProcessError is returned by the Processor when a fail-closed stage aborts
// a run. Nothing has been persisted for the run when it is returned.
type ProcessError struct {
	Stage  Stage
	BookID int64
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("bookpipe: book %d: %s: %v", e.BookID, e.Stage, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is matches the stage sentinel so callers can use errors.Is(err, ErrStorage).
func (e *ProcessError) Is(target error) bool {
	switch target {
	case ErrUnsupportedFormat:
		return e.Stage == StageUnsupportedFormat
	case ErrStorage:
		return e.Stage == StageStorage
	case ErrPersistence:
		return e.Stage == StagePersistence
	}
	return false
}

func stageError(stage Stage, bookID int64, err error) *ProcessError {
	return &ProcessError{Stage: stage, BookID: bookID, Err: err}
}
