package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PublicWritePrefix is the only namespace that accepts mutations.
const PublicWritePrefix = "/pub/"

const (
	MaxPathLength        = 4096
	MaxPathSegmentLength = 255
)

// ErrInvalidPath marks malformed paths and mutations outside PublicWritePrefix.
var ErrInvalidPath = errors.New("invalid path")

// Path is a normalized, absolute path inside an owner's namespace.
// The zero value is not a valid path.
type Path struct {
	value string
}

// ParsePath normalizes raw into an absolute path. The router strips the
// leading separator, so raw may or may not carry one. A trailing separator
// is preserved and marks a listing target.
func ParsePath(raw string) (Path, error) {
	if !utf8.ValidString(raw) {
		return Path{}, fmt.Errorf("%w: not valid utf-8", ErrInvalidPath)
	}
	if strings.HasPrefix(raw, "/") {
		raw = raw[1:]
	}
	raw = "/" + raw
	if len(raw) > MaxPathLength {
		return Path{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidPath, MaxPathLength)
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return Path{}, fmt.Errorf("%w: forbidden character %q", ErrInvalidPath, r)
		}
	}

	isDir := strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, "/.") || strings.HasSuffix(raw, "/..")
	segments := make([]string, 0, strings.Count(raw, "/"))
	for _, segment := range strings.Split(raw, "/") {
		switch segment {
		case "", ".":
			continue
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
			continue
		}
		if len(segment) > MaxPathSegmentLength {
			return Path{}, fmt.Errorf("%w: segment longer than %d bytes", ErrInvalidPath, MaxPathSegmentLength)
		}
		segments = append(segments, segment)
	}

	normalized := "/" + strings.Join(segments, "/")
	if isDir && !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}
	return Path{value: normalized}, nil
}

// ParseFilePath parses a path that must address a single file.
func ParseFilePath(raw string) (Path, error) {
	p, err := ParsePath(raw)
	if err != nil {
		return Path{}, err
	}
	if p.IsDir() {
		return Path{}, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, p)
	}
	return p, nil
}

// ParseDirPath parses a listing target. The path must end with a separator.
func ParseDirPath(raw string) (Path, error) {
	p, err := ParsePath(raw)
	if err != nil {
		return Path{}, err
	}
	if !p.IsDir() {
		return Path{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, p)
	}
	return p, nil
}

// ParseWritePath parses a file path that accepts put and delete.
func ParseWritePath(raw string) (Path, error) {
	p, err := ParseFilePath(raw)
	if err != nil {
		return Path{}, err
	}
	if !p.IsPublicWrite() {
		return Path{}, &OutsideWriteNamespaceError{Path: p}
	}
	return p, nil
}

// MustParsePath is ParsePath for constants and tests.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// OutsideWriteNamespaceError is returned for a well-formed path that does
// not live under PublicWritePrefix.
type OutsideWriteNamespaceError struct {
	Path Path
}

func (e *OutsideWriteNamespaceError) Error() string {
	return fmt.Sprintf("writing to directories other than %q is forbidden: %s", PublicWritePrefix, e.Path)
}

func (e *OutsideWriteNamespaceError) Unwrap() error { return ErrInvalidPath }

func (p Path) String() string { return p.value }

func (p Path) IsZero() bool { return p.value == "" }

func (p Path) IsDir() bool { return strings.HasSuffix(p.value, "/") }

func (p Path) IsPublicWrite() bool {
	return strings.HasPrefix(p.value, PublicWritePrefix) && len(p.value) > len(PublicWritePrefix)
}

// Join appends a relative name to a directory path.
func (p Path) Join(name string) (Path, error) {
	if !p.IsDir() {
		return Path{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, p)
	}
	return ParsePath(p.value + strings.TrimPrefix(name, "/"))
}

// HasPrefix reports whether p sits inside the directory dir.
func (p Path) HasPrefix(dir Path) bool {
	return dir.IsDir() && strings.HasPrefix(p.value, dir.value)
}
