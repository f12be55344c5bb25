package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an export is requested for an image that was never cached.
	ErrNotFound = errors.New("image not found in cache")
	// ErrBusy is returned when a full image transfer is requested while another one is active.
	ErrBusy = errors.New("a full image transfer is already active")
	// ErrCanceled completes a queued thumbnail request that was removed before it started.
	ErrCanceled = errors.New("request canceled before it started")
	// ErrAborted completes requests that were still pending at shutdown.
	ErrAborted = errors.New("request aborted by shutdown")
	// ErrClosed is returned by operations invoked after shutdown.
	ErrClosed = errors.New("manager is shut down")
)

// FetchError represents a failed retrieval of an image: transport failures,
// non-2xx responses, unreadable local files and oversized bodies.
type FetchError struct {
	URL        string // The URL that was requested
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("fetch %s failed (HTTP %d)", e.URL, e.StatusCode)
	case e.Err == nil:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Stage names the image processing step that failed.
type Stage string

const (
	StageDecode Stage = "decode"
	StageResize Stage = "resize"
	StageEncode Stage = "encode"
)

// DecodeError represents fetched bytes that could not be turned into a thumbnail.
type DecodeError struct {
	Name  string // Thumbnail name the bytes were fetched for
	Stage Stage  // Which step failed
	Err   error  // Underlying error, if any
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot %s image %s: %v", e.Stage, e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FileSystemError represents a failed filesystem operation on a cache or gallery path.
type FileSystemError struct {
	Op   string // mkdir, create, write, copy, remove
	Path string // Path the operation was applied to
	Err  error  // Underlying error, if any
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an export of a full image that is missing or empty in the cache.
type NotFoundError struct {
	Name string // Image name as given by the caller
	Path string // Cache path that was checked
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("full image %s not cached at %s", e.Name, e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// BusyError reports a full image request rejected because another transfer holds the slot.
type BusyError struct {
	Active string // Name of the image currently transferring
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("full image %s is still transferring", e.Active)
}

func (e *BusyError) Unwrap() error {
	return ErrBusy
}
