package gpu

import "errors"

var (
	ErrOutOfDate           = errors.New("gpu: swapchain out of date")
	ErrDeviceLost          = errors.New("gpu: device lost")
	ErrUnknownHandle       = errors.New("gpu: unknown resource handle")
	ErrUnknownName         = errors.New("gpu: unknown resource name")
	ErrInsufficientStorage = errors.New("gpu: insufficient acceleration structure storage")
	ErrUnsupportedData     = errors.New("gpu: data must be a non-empty slice of fixed-size values")
	ErrNotRecording        = errors.New("gpu: command buffer is not recording")
	ErrUnknownProgram      = errors.New("gpu: unknown compute program")
)
