package blobcache

import (
	"io"
	"path/filepath"
	"strings"
)

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func copyAll(w io.Writer, r io.Reader) (int64, error) {
	return io.Copy(w, r)
}
