package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasfin/atlas/internal/adapter/broker"
)

func newBrokerFixture(t *testing.T) *broker.PaperBroker {
	t.Helper()
	b := broker.NewPaperBroker(10_000)
	b.SetQuote("AAPL", broker.Quote{Symbol: "AAPL", BidPrice: 189.5, AskPrice: 190.0})
	return b
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	def := Definition{
		Name: "quote",
		Handler: func(ctx context.Context, b broker.Broker, args map[string]any) (Result, error) {
			return Result{}, nil
		},
	}
	require.NoError(t, r.Register(def))

	err := r.Register(def)
	assert.ErrorIs(t, err, ErrDuplicateTool)
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.Invoke(context.Background(), "nope", nil, newBrokerFixture(t))
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestInvokeValidation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	RegisterBrokerTools(r)
	b := newBrokerFixture(t)

	cases := []struct {
		name     string
		tool     string
		args     string
		missing  []string
		mistyped []string
	}{
		{name: "missing required", tool: "buy", args: `{"symbol":"AAPL"}`, missing: []string{"qty"}},
		{name: "mistyped qty", tool: "buy", args: `{"symbol":"AAPL","qty":"ten"}`, mistyped: []string{"qty"}},
		{name: "below minimum", tool: "sell", args: `{"symbol":"AAPL","qty":0}`, mistyped: []string{"qty"}},
		{name: "bad enum", tool: "orders", args: `{"status":"weird"}`, mistyped: []string{"status"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Invoke(ctx, tc.tool, json.RawMessage(tc.args), b)
			var verr *InvalidArgumentsError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.tool, verr.Tool)
			assert.ElementsMatch(t, tc.missing, verr.Missing)
			assert.ElementsMatch(t, tc.mistyped, verr.Mistyped)
		})
	}
}

func TestInvokeQuote(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	RegisterBrokerTools(r)
	b := newBrokerFixture(t)

	result, err := r.Invoke(ctx, "quote", json.RawMessage(`{"symbol":"aapl"}`), b)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "quote", result.Tool)
	assert.Equal(t, "Fetched quote for AAPL", result.Message)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Payload()), &payload))
	assert.Equal(t, true, payload["success"])
}

func TestInvokeBuyAndAccount(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	RegisterBrokerTools(r)
	b := newBrokerFixture(t)

	result, err := r.Invoke(ctx, "buy", json.RawMessage(`{"symbol":"AAPL","qty":10}`), b)
	require.NoError(t, err)
	assert.Equal(t, "Submitted BUY order for AAPL", result.Message)

	result, err = r.Invoke(ctx, "positions", nil, b)
	require.NoError(t, err)
	positions, ok := result.Data.([]broker.Position)
	require.True(t, ok)
	require.Len(t, positions, 1)
	assert.Equal(t, 10.0, positions[0].Qty)
}

func TestInvokeWrapsBrokerFailure(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	RegisterBrokerTools(r)
	b := newBrokerFixture(t)

	// No quote seeded for MSFT, so the order fails downstream of validation.
	_, err := r.Invoke(ctx, "buy", json.RawMessage(`{"symbol":"MSFT","qty":1}`), b)
	var berr *BrokerOperationError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "buy", berr.Tool)

	var verr *InvalidArgumentsError
	assert.False(t, errors.As(err, &verr))
}

func TestErrorPayloadShape(t *testing.T) {
	payload := ErrorPayload("buy", "boom")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, "buy", decoded["tool"])
	assert.Equal(t, false, decoded["success"])
	assert.Equal(t, "boom", decoded["error"])
}

func TestSpecsAdvertiseSchema(t *testing.T) {
	r := NewRegistry()
	RegisterBrokerTools(r)

	specs := r.Specs()
	require.Len(t, specs, 7)

	for _, spec := range specs {
		if spec.Name != "buy" {
			continue
		}
		params := spec.Parameters
		assert.Equal(t, "object", params["type"])
		props, ok := params["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "symbol")
		assert.Contains(t, props, "qty")
		assert.ElementsMatch(t, []string{"symbol", "qty"}, params["required"])
	}
}
