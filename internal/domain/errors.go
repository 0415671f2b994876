package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")
var ErrUnsupported = errors.New("unsupported operation")

// UnsupportedError reports that an engine backend does not implement an
// optional operation. The operation name is part of the message so callers
// and logs can tell which capability was missing.
type UnsupportedError struct {
	Op string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("engine does not support %s", e.Op)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Unsupported builds an UnsupportedError for the named operation.
func Unsupported(op string) error {
	return &UnsupportedError{Op: op}
}

// NotFoundError reports an operation against a torrent the session does not
// track.
type NotFoundError struct {
	TorrentID TorrentID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("torrent %s %v", e.TorrentID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError for the given torrent.
func NotFound(id TorrentID) error {
	return &NotFoundError{TorrentID: id}
}

// OperationFailedError reports a supported operation that the backend could
// not complete. TorrentID is nil for session-wide operations.
type OperationFailedError struct {
	Op        string
	TorrentID *TorrentID
	Err       error
}

func (e *OperationFailedError) Error() string {
	if e.TorrentID != nil {
		return fmt.Sprintf("%s failed for torrent %s: %v", e.Op, e.TorrentID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }

// OperationFailed wraps a backend error with the operation and torrent it
// belonged to.
func OperationFailed(op string, id *TorrentID, err error) error {
	if err == nil {
		return nil
	}
	return &OperationFailedError{Op: op, TorrentID: id, Err: err}
}
