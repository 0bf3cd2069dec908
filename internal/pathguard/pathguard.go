// Package pathguard validates relative document paths against the bank root.
// It is the single choke point for traversal prevention: every component that
// touches the file system resolves its paths here first.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrViolation is wrapped by every validation failure so callers can classify
// guard rejections without string matching.
var ErrViolation = fmt.Errorf("path validation failed")

// Validate normalises rel against root and returns the absolute path, or an
// error wrapping ErrViolation when the path is empty, contains a null byte,
// contains a traversal segment, is absolute while a root is required, or
// resolves outside the root.
func Validate(rel, root string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrViolation)
	}
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: null byte in path", ErrViolation)
	}
	if hasTraversal(rel) {
		return "", fmt.Errorf("%w: traversal segment in %q", ErrViolation, rel)
	}
	if filepath.IsAbs(rel) {
		if root == "" {
			return "", fmt.Errorf("%w: absolute path not allowed: %s", ErrViolation, rel)
		}
		return containedIn(rel, root)
	}
	if root == "" {
		return filepath.Clean(rel), nil
	}
	return containedIn(filepath.Join(root, rel), root)
}

// containedIn resolves candidate and fails unless it is the root itself or
// nested under it. The trailing-separator check keeps sibling directories like
// /bank2 from passing as children of /bank.
func containedIn(candidate, root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve root: %v", ErrViolation, err)
	}
	abs, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", fmt.Errorf("%w: resolve path: %v", ErrViolation, err)
	}
	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes allowed root: %s", ErrViolation, candidate)
	}
	return abs, nil
}

// hasTraversal reports whether any segment of p is "..". Checked segment-wise
// so names like "notes..md" stay legal.
func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == os.PathSeparator
	}) {
		if seg == ".." {
			return true
		}
	}
	return false
}
