package config

import "errors"

var (
	// ErrMissingRequired indicates a required environment variable was unset.
	ErrMissingRequired = errors.New("missing required configuration value")

	// ErrInvalidValue indicates an environment variable's value could not
	// be parsed into the type it is expected to hold.
	ErrInvalidValue = errors.New("invalid configuration value")

	// ErrInvalidYAML indicates an optional override file failed to parse.
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)
