package exchange

import (
	"sync"

	"github.com/aiverse/aiverse-api/internal/types"
)

// book holds one ticker's resting orders and the mutex that serializes
// all matching activity for that ticker. Bids are kept sorted by price
// descending, asks by price ascending; within a price level the earlier
// submission sequence comes first, which gives strict FIFO time
// priority. Only OPEN and PARTIALLY_FILLED orders live in the book.
type book struct {
	mu     sync.Mutex
	ticker string
	bids   []*types.Order
	asks   []*types.Order
}

func newBook(ticker string) *book {
	return &book{ticker: ticker}
}

// before reports whether a should rest ahead of b on its side.
func before(a, b *types.Order) bool {
	if a.LimitPrice != b.LimitPrice {
		if a.Side == types.SideBuy {
			return a.LimitPrice > b.LimitPrice
		}
		return a.LimitPrice < b.LimitPrice
	}
	return a.Submitted < b.Submitted
}

// insert places o at its price-time position. Caller holds b.mu.
func (b *book) insert(o *types.Order) {
	side := &b.asks
	if o.Side == types.SideBuy {
		side = &b.bids
	}
	// Linear scan from the back: new orders usually rest at or near the
	// end of their price level.
	orders := *side
	i := len(orders)
	for i > 0 && before(o, orders[i-1]) {
		i--
	}
	orders = append(orders, nil)
	copy(orders[i+1:], orders[i:])
	orders[i] = o
	*side = orders
}

// bestBid returns the highest-priced resting buy order, or nil.
// Caller holds b.mu.
func (b *book) bestBid() *types.Order {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// bestAsk returns the lowest-priced resting sell order, or nil.
// Caller holds b.mu.
func (b *book) bestAsk() *types.Order {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// remove takes an order out of the book the instant it reaches a
// terminal state. Caller holds b.mu.
func (b *book) remove(orderID string) *types.Order {
	for _, side := range []*[]*types.Order{&b.bids, &b.asks} {
		orders := *side
		for i, o := range orders {
			if o.OrderID == orderID {
				copy(orders[i:], orders[i+1:])
				orders[len(orders)-1] = nil
				*side = orders[:len(orders)-1]
				return o
			}
		}
	}
	return nil
}

// crossingCounterOwnedBy reports whether any counter-side order that
// the incoming order would cross belongs to the given agent. Used to
// reject self-crossing submissions before any fill happens.
// Caller holds b.mu.
func (b *book) crossingCounterOwnedBy(incoming *types.Order) bool {
	counters := b.asks
	if incoming.Side == types.SideSell {
		counters = b.bids
	}
	remaining := incoming.Quantity
	for _, counter := range counters {
		if !crosses(incoming, counter) || remaining <= 0 {
			break
		}
		if counter.AgentID == incoming.AgentID {
			return true
		}
		remaining -= counter.Remaining
	}
	return false
}

// crosses reports whether the incoming order is willing to trade at the
// resting order's price.
func crosses(incoming, resting *types.Order) bool {
	if incoming.Market() {
		return true
	}
	if incoming.Side == types.SideBuy {
		return incoming.LimitPrice >= resting.LimitPrice
	}
	return incoming.LimitPrice <= resting.LimitPrice
}
