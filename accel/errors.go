package accel

import "errors"

var (
	ErrEmptyGeometry        = errors.New("accel: bottom-level structure needs at least one index range")
	ErrMismatchedRanges     = errors.New("accel: index offsets and counts differ in length")
	ErrUnknownBottomLevel   = errors.New("accel: unknown bottom-level structure")
	ErrUnknownInstance      = errors.New("accel: unknown instance")
	ErrDuplicateCustomIndex = errors.New("accel: custom index already assigned to another instance")
	ErrTopLevelExists       = errors.New("accel: top-level structure already built")
	ErrNoTopLevel           = errors.New("accel: top-level structure not built")
)
