// Package broker defines the brokerage operation set the orchestrator
// delegates to. The concrete vendor SDK lives behind the Broker interface;
// the orchestrator only holds this contract.
package broker

import (
	"context"
	"time"
)

// Account is a trading account snapshot.
type Account struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Equity           float64   `json:"equity"`
	BuyingPower      float64   `json:"buying_power"`
	Cash             float64   `json:"cash"`
	PatternDayTrader bool      `json:"pattern_day_trader"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// Position is one open position.
type Position struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
}

// Order is a submitted order.
type Order struct {
	ID             string     `json:"id"`
	Symbol         string     `json:"symbol"`
	Qty            float64    `json:"qty"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	FilledQty      float64    `json:"filled_qty,omitempty"`
	FilledAvgPrice float64    `json:"filled_avg_price,omitempty"`
}

// Quote is a simple bid/ask snapshot for a symbol.
type Quote struct {
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
}

// Broker is the minimal operation set the orchestrator expects from a
// brokerage backend.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: every call must honor cancellation and deadlines.
type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOrders(ctx context.Context, status string) ([]Order, error)
	SubmitMarketOrder(ctx context.Context, symbol string, qty float64, side string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetLatestQuote(ctx context.Context, symbol string) (Quote, error)
}
