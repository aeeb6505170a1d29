package jenkins

import "errors"

var (
	ErrNotFound     = errors.New("not found on CI server")
	ErrUnauthorized = errors.New("CI server rejected credentials")
	ErrMalformed    = errors.New("malformed CI server response")
	// ErrTruncated comes with the leading part of a console log that was
	// larger than the client's limit.
	ErrTruncated = errors.New("console log truncated")
)
