package asset

import (
	"io/fs"
	"time"
)

// FS exposes the resources next to a parent resource as a read-only file
// system. It lets asset decoders pull in companion files (external buffers,
// images) from the same local directory or remote location.
type FS struct {
	parent *Resource
}

// Create a file system rooted at the directory of parent.
func NewFS(parent *Resource) FS {
	return FS{parent: parent}
}

// Open a resource relative to the parent.
func (f FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	res, err := NewResource(name, f.parent)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &file{Resource: res}, nil
}

// Read a resource relative to the parent.
func (f FS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	res, err := NewResource(name, f.parent)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return res.ReadAll()
}

type file struct {
	*Resource
}

func (f *file) Stat() (fs.FileInfo, error) {
	return fileInfo{name: f.Name()}, nil
}

// Resources are streams so their size is not known upfront.
type fileInfo struct {
	name string
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return 0 }
func (fi fileInfo) Mode() fs.FileMode  { return 0444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() interface{}   { return nil }
