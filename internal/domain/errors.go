package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnparsable    = errors.New("unparsable notification")
	ErrDuplicate     = errors.New("duplicate order id")
)
