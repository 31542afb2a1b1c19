package sessions

import "errors"

var (
	ErrNotFound = errors.New("no such session")
	ErrNotOwner = errors.New("session belongs to a different owner")
	ErrBadIndex = errors.New("chunk index must be >= 0")

	// ErrPartialUpload means the session's chunk sequence has a gap or a
	// chunk file vanished from disk, so assembly would produce a truncated
	// video.
	ErrPartialUpload = errors.New("incomplete chunk sequence")
)
