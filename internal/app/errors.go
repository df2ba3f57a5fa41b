package service

import "errors"

// Sentinel errors returned by the Service.
var (
	ErrPassInProgress = errors.New("reconciliation pass already in progress")
	ErrTriggerPending = errors.New("reconciliation pass already pending")
	ErrNotStarted     = errors.New("service not started")
	ErrNoSource       = errors.New("ranking source not configured")
)
