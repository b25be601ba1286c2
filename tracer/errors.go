package tracer

import "errors"

var (
	ErrNoStorage    = errors.New("tracer: storage has not been set up")
	ErrNoScene      = errors.New("tracer: no scene has been set")
	ErrInvalidBins  = errors.New("tracer: histogram bin count must be positive")
	ErrInvalidIndex = errors.New("tracer: read-only image index out of range")
)
