package service

import (
	"strings"
	"testing"

	"github.com/atlasfin/atlas/internal/domain"
)

func TestParseExecOutput(t *testing.T) {
	stdout := strings.Join([]string{
		"downloading data for AAPL",
		`##METRIC## {"name":"cagr","value":0.152}`,
		`##METRIC## {"name":"max_drawdown","value":-0.21}`,
		`##ARTIFACT## {"type":"plot","path":"equity.png"}`,
		"backtest finished: 104 bars",
	}, "\n")

	metrics, artifacts, logText := parseExecOutput(stdout)

	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %v", metrics)
	}
	if metrics["cagr"] != 0.152 || metrics["max_drawdown"] != -0.21 {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
	if len(artifacts) != 1 || artifacts[0].Type != domain.ArtifactTypePlot || artifacts[0].Path != "equity.png" {
		t.Fatalf("unexpected artifacts: %+v", artifacts)
	}
	if !strings.Contains(logText, "downloading data") || !strings.Contains(logText, "104 bars") {
		t.Fatalf("log text lost lines: %q", logText)
	}
	if strings.Contains(logText, "##METRIC##") {
		t.Fatalf("marker lines leaked into the log: %q", logText)
	}
}

func TestParseExecOutputMalformedMarkers(t *testing.T) {
	stdout := strings.Join([]string{
		`##METRIC## {"name":`,
		`##METRIC## {"value":1.0}`,
		`##ARTIFACT## not json`,
		`##ARTIFACT## {"path":"x.png"}`,
	}, "\n")

	metrics, artifacts, logText := parseExecOutput(stdout)

	if len(metrics) != 0 {
		t.Fatalf("malformed metrics must be ignored, got %v", metrics)
	}
	if len(artifacts) != 0 {
		t.Fatalf("malformed artifacts must be ignored, got %+v", artifacts)
	}
	// Malformed marker lines are preserved in the log for debugging.
	for _, want := range []string{`{"name":`, "not json"} {
		if !strings.Contains(logText, want) {
			t.Fatalf("expected %q in log, got %q", want, logText)
		}
	}
}

func TestParseExecOutputEmpty(t *testing.T) {
	metrics, artifacts, logText := parseExecOutput("")
	if len(metrics) != 0 || len(artifacts) != 0 {
		t.Fatalf("expected nothing parsed from empty output")
	}
	if logText != "" {
		t.Fatalf("expected empty log, got %q", logText)
	}
}
