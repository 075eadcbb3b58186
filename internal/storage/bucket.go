package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrExists      = errors.New("object already exists")
	ErrInvalidPath = errors.New("invalid object path")
)

// Bucket stores uploaded attachment bytes and returns the URL clients fetch
// them from. Existing objects are never overwritten.
type Bucket interface {
	Put(ctx context.Context, objectPath, contentType string, r io.Reader) (publicURL string, err error)
}

// cleanPath rejects absolute paths and anything escaping the bucket root.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrInvalidPath
	}
	return c, nil
}
