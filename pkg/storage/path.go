package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/mwantia/opsreg/pkg/errs"
)

// NormalizeKey turns a caller supplied path into an object key relative to
// the bucket: slashes only, cleaned, no leading slash and with the bucket
// name stripped when the caller included it.
func NormalizeKey(bucket, p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = stripScheme(p)
	p = strings.TrimLeft(p, "/")

	if bucket != "" {
		b := strings.Trim(path.Clean(strings.ReplaceAll(bucket, "\\", "/")), "/")
		if p == b {
			return ""
		}
		p = strings.TrimPrefix(p, b+"/")
	}

	if p == "" {
		return ""
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// MatchesPrefix reports whether key lives at or beneath prefix, honouring
// path segment boundaries so "a/b" never matches "a/bc".
func MatchesPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}

// RelativeKey returns key relative to prefix. The key must match prefix.
func RelativeKey(key, prefix string) (string, error) {
	if !MatchesPrefix(key, prefix) {
		return "", fmt.Errorf("key '%s' is not below '%s': %w", key, prefix, errs.ErrInvalidArgument)
	}
	if prefix == "" {
		return key, nil
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/"), nil
}

// JoinKey joins key segments with forward slashes.
func JoinKey(elem ...string) string {
	var parts []string
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return path.Join(parts...)
}

// ValidateKey rejects keys that would escape the bucket or root.
func ValidateKey(key string) error {
	if key == ".." || strings.HasPrefix(key, "../") {
		return fmt.Errorf("path '%s' escapes the storage root: %w", key, errs.ErrInvalidArgument)
	}
	return nil
}

// IsDirMarker reports keys that only represent a directory.
func IsDirMarker(key string) bool {
	return strings.HasSuffix(key, "/")
}

// Suffix returns the file extension without the dot.
func Suffix(key string) string {
	return strings.TrimPrefix(path.Ext(key), ".")
}

// LocalPath converts a key into an OS path below root.
func LocalPath(root, key string) string {
	return filepath.Join(root, filepath.FromSlash(key))
}
