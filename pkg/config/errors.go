package config

import "errors"

var (
	// ErrUnknownModel is returned for a model name absent from the registry.
	ErrUnknownModel = errors.New("unknown model")
)
