// Package asset resolves and streams the files a scene description refers
// to. Paths are resolved relative to the resource that references them and
// may point to local files or http/https URLs.
package asset

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Resource is a streamable local or remote file.
type Resource struct {
	io.ReadCloser
	url *url.URL
}

// Path (or URL) of the resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// Base name of the resource without any leading directories.
func (r *Resource) Name() string {
	if r.IsRemote() {
		return path.Base(r.url.Path)
	}
	return filepath.Base(r.url.Path)
}

// Returns true if the resource is fetched over http/https.
func (r *Resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Read the remaining resource contents and close it.
func (r *Resource) ReadAll() ([]byte, error) {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("resource: could not read '%s': %w", r.Path(), err)
	}
	return data, nil
}

// Resolve the location of a resource. Relative paths without a scheme are
// resolved against the directory of relTo when it is specified.
func Resolve(pathToResource string, relTo *Resource) (*url.URL, error) {
	loc, err := url.Parse(strings.Replace(pathToResource, `\`, `/`, -1))
	if err != nil {
		return nil, fmt.Errorf("resource: could not parse '%s': %w", pathToResource, err)
	}

	if loc.Scheme != "" || relTo == nil || filepath.IsAbs(loc.Path) {
		return loc, nil
	}

	// Relative to a remote resource
	if relTo.IsRemote() {
		return relTo.url.ResolveReference(loc), nil
	}

	parentDir, err := filepath.Abs(filepath.Dir(relTo.url.Path))
	if err != nil {
		return nil, fmt.Errorf("resource: could not detect abs path for %s: %w", relTo.Path(), err)
	}
	return &url.URL{Path: filepath.Join(parentDir, loc.Path)}, nil
}

// Open a resource. If relTo is specified and pathToResource does not define
// a scheme, the path is resolved relative to the directory of relTo.
//
// The caller must close the returned resource.
func NewResource(pathToResource string, relTo *Resource) (*Resource, error) {
	loc, err := Resolve(pathToResource, relTo)
	if err != nil {
		return nil, err
	}

	var reader io.ReadCloser
	switch loc.Scheme {
	case "":
		reader, err = os.Open(filepath.Clean(loc.Path))
		if err != nil {
			return nil, fmt.Errorf("resource: %w", err)
		}
	case "http", "https":
		resp, err := http.Get(loc.String())
		if err != nil {
			return nil, fmt.Errorf("resource: could not fetch '%s': %w", loc.String(), err)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("resource: could not fetch '%s': status %d", loc.String(), resp.StatusCode)
		}
		reader = resp.Body
	default:
		return nil, fmt.Errorf("resource: unsupported scheme '%s'", loc.Scheme)
	}

	return &Resource{
		ReadCloser: reader,
		url:        loc,
	}, nil
}

// Wrap a reader into a resource. Relative resources opened against it are
// resolved against name.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	loc, err := url.Parse(name)
	if err != nil {
		loc = &url.URL{Path: name}
	}
	return &Resource{
		ReadCloser: io.NopCloser(source),
		url:        loc,
	}
}
