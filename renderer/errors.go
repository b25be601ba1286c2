package renderer

import "errors"

var (
	ErrSwapchainOutOfDate = errors.New("renderer: swapchain out of date")
	ErrNoScene            = errors.New("renderer: no scene loaded")
	ErrInvalidExtent      = errors.New("renderer: render extent must be non-zero")
)
