package service

import (
	"strings"
	"testing"

	"github.com/atlasfin/atlas/internal/domain"
)

func TestStrategyScriptRendersKnownStrategies(t *testing.T) {
	for _, strategy := range []string{"ema_crossover", "sma_crossover", "buy_and_hold"} {
		req := domain.JobRequest{
			Strategy:  strategy,
			Symbols:   []string{"AAPL", "MSFT"},
			Timeframe: "1d",
			From:      "2024-01-01",
			To:        "2024-06-01",
		}
		script, err := StrategyScript(req)
		if err != nil {
			t.Fatalf("StrategyScript(%s) failed: %v", strategy, err)
		}
		if !strings.Contains(script, `SYMBOLS = ["AAPL","MSFT"]`) {
			t.Fatalf("symbols not rendered as a JSON list:\n%s", script)
		}
		if !strings.Contains(script, "##METRIC##") || !strings.Contains(script, "##ARTIFACT##") {
			t.Fatalf("script must emit output markers")
		}
		if !strings.Contains(script, `"2024-01-01"`) || !strings.Contains(script, `"2024-06-01"`) {
			t.Fatalf("date range missing from script")
		}
	}
}

func TestStrategyScriptUnknownStrategy(t *testing.T) {
	_, err := StrategyScript(domain.JobRequest{Strategy: "martingale"})
	if err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	if !strings.Contains(err.Error(), "martingale") {
		t.Fatalf("error should name the strategy: %v", err)
	}
}

func TestStrategyDependencies(t *testing.T) {
	deps := StrategyDependencies(domain.JobRequest{Strategy: "ema_crossover"})
	if len(deps) == 0 {
		t.Fatalf("expected dependencies")
	}
	joined := strings.Join(deps, " ")
	for _, want := range []string{"pandas", "yfinance"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %s in dependencies, got %v", want, deps)
		}
	}
}
