package errors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid")
	ErrTooMany       = errors.New("too many requests")
	ErrInternal      = errors.New("internal")
	ErrRateLimited   = errors.New("upstream rate limited")
	ErrAIUnavailable = errors.New("ai not configured")
	ErrEmptyDocument = errors.New("document text extraction yielded no text")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
