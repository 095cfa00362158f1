package workspace

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidResource is returned when a string cannot be turned into a Resource.
var ErrInvalidResource = errors.New("invalid resource")

// Resource is the canonical identity of a file or folder, expressed as a URI
// string such as "file:///home/dev/project". Two resources that name the same
// location compare equal, so Resource is safe to use as a map key.
type Resource string

// ParseResource canonicalizes raw into a Resource. Absolute filesystem paths
// are accepted and converted to file URIs.
func ParseResource(raw string) (Resource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidResource)
	}
	if filepath.IsAbs(raw) || strings.HasPrefix(raw, "/") {
		return FileResource(raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidResource, raw, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: %q has no scheme", ErrInvalidResource, raw)
	}
	return canonical(u), nil
}

// MustParseResource is ParseResource for literals known to be valid.
func MustParseResource(raw string) Resource {
	r, err := ParseResource(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// FileResource returns the file URI for an absolute filesystem path.
func FileResource(p string) Resource {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return canonical(&url.URL{Scheme: "file", Path: p})
}

func canonical(u *url.URL) Resource {
	out := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   cleanPath(u.Path),
	}
	return Resource(out.String())
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

func (r Resource) String() string {
	return string(r)
}

func (r Resource) IsZero() bool {
	return r == ""
}

func (r Resource) url() *url.URL {
	u, err := url.Parse(string(r))
	if err != nil {
		return &url.URL{}
	}
	return u
}

// Path returns the path component of the resource URI.
func (r Resource) Path() string {
	return r.url().Path
}

// Join resolves rel against r and returns the canonical result.
func (r Resource) Join(rel string) Resource {
	u := r.url()
	u.Path = path.Join(cleanPath(u.Path), filepath.ToSlash(rel))
	return canonical(u)
}

// Contains reports whether other is r itself or lies below r. Containment is
// decided on whole path segments, so "/a/b" does not contain "/a/bc".
func (r Resource) Contains(other Resource) bool {
	if r == other {
		return true
	}
	a, b := r.url(), other.url()
	if a.Scheme != b.Scheme || a.Host != b.Host {
		return false
	}
	parent := cleanPath(a.Path)
	child := cleanPath(b.Path)
	if parent == "/" {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

// IsFile reports whether r uses the file scheme.
func (r Resource) IsFile() bool {
	return r.url().Scheme == "file"
}
