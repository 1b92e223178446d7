package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUnsupportedKind     = errors.New("unsupported task kind")
	ErrProviderFailure     = errors.New("provider failure")
)
