package chat

import "errors"

var (
	ErrNotFound   = errors.New("message not found")
	ErrForbidden  = errors.New("not allowed to change this message")
	ErrValidation = errors.New("invalid message")
	ErrUpstream   = errors.New("upstream failure")
)
