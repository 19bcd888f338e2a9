package suppress

import "errors"

// Input validation errors. These surface synchronously to the caller; the
// classification path never returns them (it absorbs faults and fails open).
var (
	// ErrEmptyPath is returned when an operation is given an empty path.
	ErrEmptyPath = errors.New("path must not be empty")

	// ErrNilContent is returned when Begin is given nil content. Empty
	// content is valid; nil means the caller has no content at all.
	ErrNilContent = errors.New("content must not be nil")
)
