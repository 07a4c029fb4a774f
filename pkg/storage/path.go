// File: pkg/storage/path.go
package storage

import (
	"net/url"
	"strings"
)

// Delimiter separates the segments of a Path
const Delimiter = "/"

// Path is a normalized, slash-separated object key. The zero value is the
// store root and is only meaningful as a listing prefix.
type Path string

// Normalizes a raw key: leading, trailing and repeated slashes are dropped.
// Keys containing "." or ".." segments are rejected, as is a key that is
// empty after normalization.
func ParsePath(raw string) (Path, error) {
	p, err := parse(raw)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", invalidInput(Path(raw), "object path is empty")
	}
	return p, nil
}

// Like ParsePath, but an empty input yields the root, which is valid as a list prefix
func ParsePrefix(raw string) (Path, error) {
	return parse(raw)
}

// Decodes a percent-encoded URL path into a Path, one segment at a time
func PathFromURLPath(raw string) (Path, error) {
	parts := strings.Split(raw, Delimiter)
	decoded := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		s, err := url.PathUnescape(part)
		if err != nil {
			return "", &Error{Kind: KindInvalidInput, Path: Path(raw), Err: err}
		}
		decoded = append(decoded, s)
	}
	return parse(strings.Join(decoded, Delimiter))
}

func parse(raw string) (Path, error) {
	segments := strings.Split(raw, Delimiter)
	kept := segments[:0]
	for _, s := range segments {
		switch s {
		case "":
			continue
		case ".", "..":
			return "", invalidInput(Path(raw), "object path %q contains a relative segment", raw)
		}
		kept = append(kept, s)
	}
	return Path(strings.Join(kept, Delimiter)), nil
}

func (p Path) String() string {
	return string(p)
}

func (p Path) IsRoot() bool {
	return p == ""
}

// Returns the path segments, none of which are empty
func (p Path) Parts() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), Delimiter)
}

// Appends a single segment. The segment is not re-normalized.
func (p Path) Child(part string) Path {
	if p == "" {
		return Path(part)
	}
	return Path(string(p) + Delimiter + part)
}

// Returns the last segment of the path
func (p Path) Filename() string {
	if i := strings.LastIndex(string(p), Delimiter); i >= 0 {
		return string(p)[i+1:]
	}
	return string(p)
}

// Reports whether prefix is an ancestor directory of p. The comparison is
// segment-aware: "a/bc" does not have prefix "a/b". The root is a prefix of
// every path, and no path is its own prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix == "" {
		return p != ""
	}
	return strings.HasPrefix(string(p), string(prefix)+Delimiter)
}

// The prefix as sent to listing APIs: a trailing delimiter for anything but the root
func (p Path) DirPrefix() string {
	if p == "" {
		return ""
	}
	return string(p) + Delimiter
}
