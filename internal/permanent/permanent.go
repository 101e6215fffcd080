package permanent

import "errors"

// Error tags a failure that retrying cannot repair, such as a request
// that could not even be built.
// Params: underlying cause.
// Returns: error carrying the non-retryable tag.
type Error struct {
	Err error
}

// Error reports the underlying message.
// Params: none.
// Returns: cause text, or a placeholder when there is none.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap hands the cause to errors.Is and errors.As.
// Params: none.
// Returns: underlying error.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent is the tag probed by Is.
// Params: none.
// Returns: always true.
func (Error) Permanent() bool {
	return true
}

// Mark tags an error as non-retryable; nil stays nil.
// Params: error to tag.
// Returns: tagged error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is tells retry loops to stop: it walks the chain for any error
// exposing a Permanent() tag.
// Params: error under inspection.
// Returns: true when a permanent tag is found.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
