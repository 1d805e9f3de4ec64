package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlasfin/atlas/internal/domain"
)

// persistArtifacts writes inline artifact content under the job's directory.
// The layout <base>/<job_id>/<file> is deterministic and stable for the
// lifetime of the job record, so repeated reads are idempotent. Artifacts
// that only reference a path (files living inside the sandbox) are recorded
// as-is.
func persistArtifacts(baseDir, jobID string, artifacts []domain.Artifact) ([]domain.Artifact, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}

	jobDir := filepath.Join(baseDir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	out := make([]domain.Artifact, 0, len(artifacts))
	for i, a := range artifacts {
		if a.Content == "" {
			out = append(out, a)
			continue
		}
		name := filepath.Base(a.Path)
		if name == "" || name == "." {
			name = fmt.Sprintf("artifact_%d%s", i, extFor(a.Type))
		}
		path := filepath.Join(jobDir, name)
		if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write artifact %s: %w", name, err)
		}
		out = append(out, domain.Artifact{Type: a.Type, Path: path})
	}
	return out, nil
}

func extFor(t domain.ArtifactType) string {
	switch t {
	case domain.ArtifactTypePlot:
		return ".png"
	case domain.ArtifactTypeCSV:
		return ".csv"
	case domain.ArtifactTypeConfig:
		return ".json"
	default:
		return ".log"
	}
}
