package domain

import "errors"

var (
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// Policy rejections.
	ErrBlocked          = errors.New("receiver is blocked")
	ErrDisabledByPolicy = errors.New("disabled by policy")
	ErrNotAllowed       = errors.New("not allowed")
)
