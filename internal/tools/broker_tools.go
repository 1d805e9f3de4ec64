package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlasfin/atlas/internal/adapter/broker"
)

func minQty() *float64 {
	v := 0.0001
	return &v
}

// RegisterBrokerTools installs the brokerage tool set into the registry.
func RegisterBrokerTools(r *Registry) {
	r.MustRegister(Definition{
		Name:        "account",
		Description: "Retrieve the current account status and balances",
		Schema:      map[string]Field{},
		Handler: func(ctx context.Context, b broker.Broker, _ map[string]any) (Result, error) {
			account, err := b.GetAccount(ctx)
			if err != nil {
				return Result{}, err
			}
			return Result{Tool: "account", Success: true, Message: "Fetched account details", Data: account}, nil
		},
	})

	r.MustRegister(Definition{
		Name:        "positions",
		Description: "List currently open positions",
		Schema:      map[string]Field{},
		Handler: func(ctx context.Context, b broker.Broker, _ map[string]any) (Result, error) {
			positions, err := b.GetPositions(ctx)
			if err != nil {
				return Result{}, err
			}
			return Result{Tool: "positions", Success: true, Message: "Fetched open positions", Data: positions}, nil
		},
	})

	r.MustRegister(Definition{
		Name:        "orders",
		Description: "List recent orders; optional status filter (open/closed/all)",
		Schema: map[string]Field{
			"status": {Type: "string", Enum: []string{"open", "closed", "all"}, Description: "Filter orders by status"},
		},
		Handler: func(ctx context.Context, b broker.Broker, args map[string]any) (Result, error) {
			status, _ := args["status"].(string)
			orders, err := b.GetOrders(ctx, status)
			if err != nil {
				return Result{}, err
			}
			return Result{Tool: "orders", Success: true, Message: "Fetched recent orders", Data: orders}, nil
		},
	})

	r.MustRegister(Definition{
		Name:        "buy",
		Description: "Submit a market BUY order",
		Schema: map[string]Field{
			"symbol": {Type: "string", Required: true},
			"qty":    {Type: "number", Required: true, Minimum: minQty()},
		},
		Handler: marketOrderHandler("buy"),
	})

	r.MustRegister(Definition{
		Name:        "sell",
		Description: "Submit a market SELL order",
		Schema: map[string]Field{
			"symbol": {Type: "string", Required: true},
			"qty":    {Type: "number", Required: true, Minimum: minQty()},
		},
		Handler: marketOrderHandler("sell"),
	})

	r.MustRegister(Definition{
		Name:        "cancel",
		Description: "Cancel an existing order by id",
		Schema: map[string]Field{
			"order_id": {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, b broker.Broker, args map[string]any) (Result, error) {
			orderID, _ := args["order_id"].(string)
			if err := b.CancelOrder(ctx, orderID); err != nil {
				return Result{}, err
			}
			return Result{
				Tool:    "cancel",
				Success: true,
				Message: fmt.Sprintf("Canceled order %s", orderID),
				Data:    map[string]string{"order_id": orderID},
			}, nil
		},
	})

	r.MustRegister(Definition{
		Name:        "quote",
		Description: "Fetch the latest market quote for a symbol",
		Schema: map[string]Field{
			"symbol": {Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, b broker.Broker, args map[string]any) (Result, error) {
			symbol := strings.ToUpper(strings.TrimSpace(args["symbol"].(string)))
			quote, err := b.GetLatestQuote(ctx, symbol)
			if err != nil {
				return Result{}, err
			}
			return Result{
				Tool:    "quote",
				Success: true,
				Message: fmt.Sprintf("Fetched quote for %s", symbol),
				Data:    map[string]any{"symbol": symbol, "quote": quote},
			}, nil
		},
	})
}

// TradeAlteringTools names the tools gated by the trading policy.
var TradeAlteringTools = map[string]bool{
	"buy":    true,
	"sell":   true,
	"cancel": true,
}

func marketOrderHandler(side string) HandlerFunc {
	return func(ctx context.Context, b broker.Broker, args map[string]any) (Result, error) {
		symbol := strings.ToUpper(strings.TrimSpace(args["symbol"].(string)))
		qty := args["qty"].(float64)
		order, err := b.SubmitMarketOrder(ctx, symbol, qty, side)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Tool:    side,
			Success: true,
			Message: fmt.Sprintf("Submitted %s order for %s", strings.ToUpper(side), symbol),
			Data:    order,
		}, nil
	}
}
