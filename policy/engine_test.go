package policy

import (
	"context"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestDefaultPolicyAllowsSmallOrders(t *testing.T) {
	engine := newTestEngine(t)

	decision, _, err := engine.Evaluate(context.Background(), map[string]any{
		"tool_name": "buy",
		"args":      map[string]any{"symbol": "AAPL", "qty": 10.0},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != "allow" {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestDefaultPolicyBlocksOversizedOrders(t *testing.T) {
	engine := newTestEngine(t)

	for _, tool := range []string{"buy", "sell"} {
		decision, _, err := engine.Evaluate(context.Background(), map[string]any{
			"tool_name": tool,
			"args":      map[string]any{"symbol": "AAPL", "qty": 20000.0},
		})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision != "block" {
			t.Fatalf("expected block for %s, got %s", tool, decision)
		}
	}
}

func TestDefaultPolicyIgnoresReadOnlyTools(t *testing.T) {
	engine := newTestEngine(t)

	decision, _, err := engine.Evaluate(context.Background(), map[string]any{
		"tool_name": "quote",
		"args":      map[string]any{"symbol": "AAPL"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != "allow" {
		t.Fatalf("expected allow, got %s", decision)
	}
}
