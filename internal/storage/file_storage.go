package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type fileArchive struct {
	dir string
}

// NewFileArchive writes artifacts to dir/runID/name
func NewFileArchive(dir string) (ResultArchive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &fileArchive{dir: dir}, nil
}

func (s *fileArchive) Store(ctx context.Context, runID string, artifacts []Artifact) (string, error) {
	runDir := filepath.Join(s.dir, runID)
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name, err := objectName(runID, a.Name)
		if err != nil {
			return "", err
		}
		target := filepath.Join(s.dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, a.Data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", target, err)
		}
	}
	return runDir, nil
}

func (s *fileArchive) Backend() string { return "local" }
