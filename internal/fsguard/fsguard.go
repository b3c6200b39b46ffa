// Package fsguard confines file access to a root directory.
package fsguard

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path escapes its root directory.
var ErrOutsideRoot = errors.New("path is outside of the root directory")

// Resolve resolves p against root the way a shell would: absolute paths are
// taken as they are, relative ones are joined to root. The result is cleaned.
func Resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// Within reports whether path lies strictly inside root. Both must be clean
// absolute paths. The root itself is not inside root, and neither is a
// sibling sharing its prefix (/srv/app-old is not inside /srv/app).
func Within(root, path string) bool {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix) && len(path) > len(prefix)
}

// Check resolves p against root and verifies the result stays inside root,
// both lexically and after following symlinks. It returns the lexical path.
//
// A path that does not exist yet only gets the lexical check: there is
// nothing to read, and callers treat absence as a normal case.
func Check(root, p string) (string, error) {
	root = filepath.Clean(root)
	path := Resolve(root, p)
	if !Within(root, path) {
		return path, ErrOutsideRoot
	}

	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		return path, err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return path, err
	}
	if !Within(realRoot, realPath) {
		return path, ErrOutsideRoot
	}
	return path, nil
}

// Rel returns path relative to root for display, falling back to path.
func Rel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
