package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperBroker is an in-memory Broker used for local runs and tests. Orders
// fill immediately at the quoted price.
type PaperBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*Position
	orders    []Order
	quotes    map[string]Quote
}

var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(cash float64) *PaperBroker {
	return &PaperBroker{
		cash:      cash,
		positions: make(map[string]*Position),
		quotes:    make(map[string]Quote),
	}
}

// SetQuote seeds the quote used to fill orders for a symbol.
func (b *PaperBroker) SetQuote(symbol string, q Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[strings.ToUpper(symbol)] = q
}

func (b *PaperBroker) GetAccount(ctx context.Context) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		equity += p.MarketValue
	}
	return Account{
		ID:          "paper",
		Status:      "ACTIVE",
		Equity:      equity,
		BuyingPower: b.cash,
		Cash:        b.cash,
	}, nil
}

func (b *PaperBroker) GetPositions(ctx context.Context) ([]Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (b *PaperBroker) GetOrders(ctx context.Context, status string) ([]Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		switch status {
		case "", "all":
		case "open":
			if o.Status != "new" && o.Status != "accepted" {
				continue
			}
		case "closed":
			if o.Status != "filled" && o.Status != "canceled" {
				continue
			}
		default:
			return nil, fmt.Errorf("unknown order status filter %q", status)
		}
		out = append(out, o)
	}
	return out, nil
}

func (b *PaperBroker) SubmitMarketOrder(ctx context.Context, symbol string, qty float64, side string) (Order, error) {
	if qty <= 0 {
		return Order{}, fmt.Errorf("qty must be positive, got %v", qty)
	}
	if side != "buy" && side != "sell" {
		return Order{}, fmt.Errorf("side must be buy or sell, got %q", side)
	}
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	quote, ok := b.quotes[symbol]
	if !ok {
		return Order{}, fmt.Errorf("no quote available for %s", symbol)
	}
	price := quote.AskPrice
	if side == "sell" {
		price = quote.BidPrice
	}

	now := time.Now()
	order := Order{
		ID:             "ord_" + uuid.New().String()[:8],
		Symbol:         symbol,
		Qty:            qty,
		Side:           side,
		Type:           "market",
		Status:         "filled",
		SubmittedAt:    &now,
		FilledQty:      qty,
		FilledAvgPrice: price,
	}

	if side == "buy" {
		cost := price * qty
		if cost > b.cash {
			return Order{}, fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, b.cash)
		}
		b.cash -= cost
		pos := b.positions[symbol]
		if pos == nil {
			pos = &Position{Symbol: symbol}
			b.positions[symbol] = pos
		}
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Qty + price*qty) / (pos.Qty + qty)
		pos.Qty += qty
		pos.CurrentPrice = price
		pos.MarketValue = pos.Qty * price
	} else {
		pos := b.positions[symbol]
		if pos == nil || pos.Qty < qty {
			return Order{}, fmt.Errorf("insufficient position in %s", symbol)
		}
		b.cash += price * qty
		pos.Qty -= qty
		pos.CurrentPrice = price
		pos.MarketValue = pos.Qty * price
		if pos.Qty == 0 {
			delete(b.positions, symbol)
		}
	}

	b.orders = append(b.orders, order)
	return order, nil
}

func (b *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.orders {
		if b.orders[i].ID != orderID {
			continue
		}
		if b.orders[i].Status == "filled" {
			return fmt.Errorf("order %s already filled", orderID)
		}
		b.orders[i].Status = "canceled"
		return nil
	}
	return fmt.Errorf("order %s not found", orderID)
}

func (b *PaperBroker) GetLatestQuote(ctx context.Context, symbol string) (Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	q, ok := b.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("no quote available for %s", symbol)
	}
	q.Symbol = symbol
	return q, nil
}
