package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Artifact is one file produced by a run
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// ResultArchive keeps the artifacts of a run somewhere outside the process
type ResultArchive interface {
	// Store saves the artifacts under runID and returns where they went
	Store(ctx context.Context, runID string, artifacts []Artifact) (string, error)
	Backend() string
}

// objectName builds "runID/name" and rejects names that would escape the run prefix
func objectName(runID, name string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	name = strings.ReplaceAll(name, `\`, "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid artifact name %q", name)
		}
	}
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return runID + clean, nil
}

type noopArchive struct{}

// NewNoopArchive returns an archive that discards everything
func NewNoopArchive() ResultArchive {
	return noopArchive{}
}

func (noopArchive) Store(ctx context.Context, runID string, artifacts []Artifact) (string, error) {
	return "", ctx.Err()
}

func (noopArchive) Backend() string { return "none" }
