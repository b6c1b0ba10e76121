// Package artifact writes the output files declared by a workflow's
// `outputs` list once a run completes, with the same path-traversal
// protections the tool registry applies to file-write tool calls.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/spec"
)

// Writer renders and writes declared artifacts under OutputDir.
type Writer struct {
	OutputDir string
}

// New constructs a Writer rooted at outputDir, creating it if needed.
func New(outputDir string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: creating output directory: %w", err)
	}
	return &Writer{OutputDir: outputDir}, nil
}

// WriteAll renders and writes every declared artifact against scope, in
// order, stopping at the first failure.
func (w *Writer) WriteAll(specs []spec.ArtifactSpec, scope exprlang.Scope) error {
	for _, a := range specs {
		if err := w.writeOne(a, scope); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeOne(a spec.ArtifactSpec, scope exprlang.Scope) error {
	content, err := exprlang.Render(a.From, scope)
	if err != nil {
		return fmt.Errorf("artifact: rendering content for %q: %w", a.Path, err)
	}
	relPath, err := exprlang.Render(a.Path, scope)
	if err != nil {
		return fmt.Errorf("artifact: rendering path %q: %w", a.Path, err)
	}

	resolved, err := w.resolve(relPath)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}

	if !a.Force {
		if _, err := os.Stat(resolved); err == nil {
			return fmt.Errorf("artifact: %q already exists; set force to overwrite", relPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("artifact: checking %q: %w", relPath, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("artifact: creating directory for %q: %w", relPath, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Errorf("artifact: writing %q: %w", relPath, err)
	}
	return nil
}

// resolve rejects absolute paths, ".." components, and symlinks, then
// confines the result to w.OutputDir.
func (w *Writer) resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("absolute paths are not permitted: %q", relPath)
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == ".." {
			return "", fmt.Errorf("path traversal is not permitted: %q", relPath)
		}
	}

	rootAbs, err := filepath.Abs(w.OutputDir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	resolved, err := filepath.Abs(filepath.Join(rootAbs, relPath))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the output directory: %q", relPath)
	}
	if err := rejectSymlinks(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

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
