package service

import (
	"encoding/json"
	"strings"

	"github.com/atlasfin/atlas/internal/domain"
)

// Output markers the backtest script prints on stdout.
const (
	metricMarker   = "##METRIC## "
	artifactMarker = "##ARTIFACT## "
)

type metricLine struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// parseExecOutput splits captured stdout into parsed metrics, declared
// artifacts, and the remaining free-text log. Malformed marker lines fall
// through to the log instead of failing the job.
func parseExecOutput(stdout string) (map[string]float64, []domain.Artifact, string) {
	metrics := make(map[string]float64)
	var artifacts []domain.Artifact
	var logLines []string

	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, metricMarker):
			var m metricLine
			if err := json.Unmarshal([]byte(strings.TrimPrefix(trimmed, metricMarker)), &m); err == nil && m.Name != "" {
				metrics[m.Name] = m.Value
				continue
			}
			logLines = append(logLines, line)
		case strings.HasPrefix(trimmed, artifactMarker):
			var a domain.Artifact
			if err := json.Unmarshal([]byte(strings.TrimPrefix(trimmed, artifactMarker)), &a); err == nil && a.Type != "" {
				artifacts = append(artifacts, a)
				continue
			}
			logLines = append(logLines, line)
		default:
			logLines = append(logLines, line)
		}
	}
	return metrics, artifacts, strings.Join(logLines, "\n")
}
