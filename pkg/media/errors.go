package media

import "errors"

// ErrNotFound is returned when a searched or detailed media item doesn't
// exist upstream. Handlers turn it into an empty state, not an error page.
var ErrNotFound = errors.New("media not found")

// AuthError is a failed sign-in, sign-up or account update. It's recoverable:
// the message is shown inline and the user may retry.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// IsAuthError reports whether err (or anything it wraps) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
