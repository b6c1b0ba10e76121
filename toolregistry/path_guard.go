package toolregistry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// guardPath enforces the filesystem rules for file-read and file-write
// tools: absolute paths are rejected outright, ".." path components are
// rejected, and symlinks anywhere on the resolved path are
// rejected. Writes are additionally confined to artifactsDir.
func guardPath(artifactsDir, path string, write bool) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths are not permitted: %q", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal is not permitted: %q", path)
		}
	}

	base := "."
	if write {
		base = artifactsDir
	}
	joined := filepath.Join(base, path)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if write {
		rootAbs, err := filepath.Abs(artifactsDir)
		if err != nil {
			return fmt.Errorf("resolving artifacts directory: %w", err)
		}
		if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
			return fmt.Errorf("path escapes the artifacts directory: %q", path)
		}
	}
	if err := rejectSymlinks(resolved); err != nil {
		return err
	}
	return nil
}

// rejectSymlinks walks from the filesystem root down to path and fails if
// any existing component is a symlink. Components that do not yet exist
// (the common case for a file about to be created) are skipped.
func rejectSymlinks(path string) error {
	cur := string(filepath.Separator)
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("inspecting path component %q: %w", cur, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("symlinks are not permitted: %q", cur)
		}
	}
	return nil
}
