package v1

import "errors"

var (
	ErrContentType = errors.New("Content-Type must be application/json")
	ErrMissingID   = errors.New("id is required")
	ErrMissingURI  = errors.New("uri is required")
	ErrMissingType = errors.New("type is required")
	ErrStopReason  = errors.New("reason is required and must not be 0 (NONE)")
)
