package config

import "errors"

var (
	// ErrLoadConfig wraps failures reading the YAML file or the environment.
	ErrLoadConfig = errors.New("load config failed")
	// ErrInvalidConfig wraps field range violations found by Validate.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrSourceUnset is returned by RequireSource when commands that drain
	// the ranking source run without its address or credentials.
	ErrSourceUnset = errors.New("ranking source not configured")
)
