package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("record already exists")
	ErrInvalidAmount = errors.New("invalid counter amount")
	ErrClosed        = errors.New("store closed")
)
