// Package policy gates trade-altering tools behind an OPA policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.trading_policy.decision"),
		rego.Module("trading_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the trading policy.
// Input is a map with keys: tool_name, args, session_id.
// Returns: decision (allow, block), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}
	if m, ok := val.(map[string]interface{}); ok {
		decision, _ := m["decision"].(string)
		reason, _ := m["reason"].(string)
		if decision != "" {
			return decision, reason, nil
		}
	}
	return "allow", "unexpected return type", nil
}

// DefaultPolicy is the default trading policy content: orders above the
// notional share cap are blocked, everything else is allowed.
const DefaultPolicy = `
package trading_policy

default decision = "allow"

decision = "block" {
	input.tool_name == "buy"
	input.args.qty > 10000
}

decision = "block" {
	input.tool_name == "sell"
	input.args.qty > 10000
}
`
