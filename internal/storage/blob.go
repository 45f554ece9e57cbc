// Package storage keeps uploaded question documents.
package storage

import (
	"errors"
	"io"
	"path"
	"strings"
)

var ErrBadKey = errors.New("invalid blob key")

// BlobStore holds opaque documents by slash-separated key. Put returns the
// canonical form of key, which is what callers persist.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error)
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
}

const defaultSourceName = "source.txt"

// CourseSourceKey is where the uploaded document of a course lives. Only the
// base name of the client-supplied filename is kept.
func CourseSourceKey(courseID, filename string) string {
	name := path.Base("/" + strings.ReplaceAll(filename, "\\", "/"))
	if name == "/" || name == "." {
		name = defaultSourceName
	}
	return "courses/" + courseID + "/" + name
}
