package scene

import "errors"

var (
	ErrNotLoaded          = errors.New("scene: no scene loaded")
	ErrAlreadyLoaded      = errors.New("scene: a scene is already loaded; destruct it first")
	ErrInvalidDescription = errors.New("scene: invalid scene description")
	ErrUnsupportedAsset   = errors.New("scene: unsupported asset")
)
