// Package exchange implements the matching engine: one order book per
// ticker, price-time-priority matching with partial fills, and atomic
// trade settlement against the ledger and company registry.
package exchange

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/company"
	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/news"
	"github.com/aiverse/aiverse-api/internal/types"
)

// maxTradeLog bounds the in-memory trade history.
const maxTradeLog = 10_000

type pricePoint struct {
	at    time.Time
	price types.Amount
}

// Engine accepts orders, matches them and settles the results. Matching
// for a given ticker is serialized by that ticker's book mutex;
// different tickers match fully in parallel.
type Engine struct {
	ledger   *ledger.Ledger
	registry *company.Registry
	feed     *news.Feed

	mu    sync.RWMutex
	books map[string]*book

	ordersMu sync.RWMutex
	orders   map[string]*types.Order

	seq atomic.Uint64

	tradesMu sync.RWMutex
	trades   []types.Trade
	history  map[string][]pricePoint
}

func NewEngine(l *ledger.Ledger, r *company.Registry, feed *news.Feed) *Engine {
	return &Engine{
		ledger:   l,
		registry: r,
		feed:     feed,
		books:    make(map[string]*book),
		orders:   make(map[string]*types.Order),
		history:  make(map[string][]pricePoint),
	}
}

func (e *Engine) bookFor(ticker string) *book {
	e.mu.RLock()
	b, ok := e.books[ticker]
	e.mu.RUnlock()
	if ok {
		return b
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[ticker]; !ok {
		b = newBook(ticker)
		e.books[ticker] = b
	}
	return b
}

// SubmitOrder validates, matches and (for limit orders) rests an order.
// A zero limit price is the market sentinel: the order crosses at any
// available price and any unfilled remainder is cancelled.
func (e *Engine) SubmitOrder(agentID, ticker string, side types.Side, quantity int64, limitPrice types.Amount) (*types.Order, error) {
	ticker = company.Normalize(ticker)
	if quantity <= 0 || limitPrice < 0 || !side.Valid() {
		return nil, types.ErrInvalidOrder
	}
	comp, err := e.registry.Get(ticker)
	if err != nil {
		return nil, err
	}
	// Shares only exist once the company has gone public.
	if comp.IPOState != types.CompanyPublic {
		return nil, types.ErrInvalidOrder
	}
	if _, err := e.ledger.Get(agentID); err != nil {
		return nil, err
	}

	b := e.bookFor(ticker)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Reservation bound: a submission must be honorable at the moment it
	// enters the book. Sellers need the shares; buyers need cash for the
	// worst acceptable price.
	if side == types.SideSell {
		held, err := e.ledger.Holdings(agentID, ticker)
		if err != nil {
			return nil, err
		}
		if held < quantity {
			return nil, types.ErrInsufficientShares
		}
	} else {
		bound := limitPrice
		if bound == 0 {
			if ask := b.bestAsk(); ask != nil {
				bound = ask.LimitPrice
			} else {
				bound = comp.LastTradePrice
			}
		}
		agent, err := e.ledger.Get(agentID)
		if err != nil {
			return nil, err
		}
		if agent.Cash < bound.Mul(quantity) {
			return nil, types.ErrInsufficientFunds
		}
	}

	order := &types.Order{
		OrderID:    uuid.New().String(),
		AgentID:    agentID,
		Ticker:     ticker,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		Submitted:  e.seq.Add(1),
		Status:     types.OrderOpen,
		Remaining:  quantity,
		CreatedAt:  time.Now().UTC(),
	}

	// Wash trades are rejected outright, before any fill.
	if b.crossingCounterOwnedBy(order) {
		return nil, types.ErrSelfCross
	}

	e.match(b, order)
	e.rest(b, order)

	e.ordersMu.Lock()
	e.orders[order.OrderID] = order
	e.ordersMu.Unlock()

	out := *order
	return &out, nil
}

// rest settles the incoming order's final disposition after matching.
// An order match has already cancelled keeps that status and never
// enters the book: terminal states are immutable and only OPEN or
// PARTIALLY_FILLED orders may rest. Caller holds b.mu.
func (e *Engine) rest(b *book, order *types.Order) {
	switch {
	case order.Status.Terminal():
		// Settlement failed mid-match and cancelled the remainder.
	case order.Remaining == 0:
		order.Status = types.OrderFilled
	case order.Market():
		// No resting market orders: the unfilled remainder dies.
		order.Status = types.OrderCancelled
	default:
		if order.FilledQty() > 0 {
			order.Status = types.OrderPartiallyFilled
		}
		b.insert(order)
	}
}

// match runs the continuous matching loop for an incoming order.
// Caller holds b.mu.
func (e *Engine) match(b *book, order *types.Order) {
	for order.Remaining > 0 {
		var counter *types.Order
		if order.Side == types.SideBuy {
			counter = b.bestAsk()
		} else {
			counter = b.bestBid()
		}
		if counter == nil || !crosses(order, counter) {
			return
		}

		// Price-time priority favors the standing order: the aggressor
		// takes the resting price.
		price := counter.LimitPrice
		qty := min64(order.Remaining, counter.Remaining)
		total := price.Mul(qty)

		buyOrder, sellOrder := order, counter
		if order.Side == types.SideSell {
			buyOrder, sellOrder = counter, order
		}

		var err error
		primary := sellOrder.AgentID == types.CompanyAccountID(b.ticker)
		if primary {
			if err = e.ledger.SettlePrimary(b.ticker, buyOrder.AgentID, qty, total); err == nil {
				err = e.registry.SettlePrimaryFill(b.ticker, qty, total)
			}
		} else {
			err = e.ledger.SettleTrade(b.ticker, buyOrder.AgentID, sellOrder.AgentID, qty, total)
		}

		if err != nil {
			if e.restingAtFault(err, order) {
				// The resting order can no longer honor its side; drop
				// it and keep matching against the rest of the book.
				e.expireResting(b, counter, err)
				continue
			}
			// The incoming order can no longer honor its side (its
			// reservation was drained concurrently). Cancel the
			// remainder.
			log.Warn().
				Err(err).
				Str("order_id", order.OrderID).
				Str("ticker", b.ticker).
				Msg("incoming order can no longer settle, cancelling remainder")
			order.Status = types.OrderCancelled
			return
		}

		order.Remaining -= qty
		counter.Remaining -= qty
		if counter.Remaining == 0 {
			counter.Status = types.OrderFilled
			b.remove(counter.OrderID)
		} else {
			counter.Status = types.OrderPartiallyFilled
		}

		trade := types.Trade{
			TradeID:     uuid.New().String(),
			Ticker:      b.ticker,
			BuyOrderID:  buyOrder.OrderID,
			SellOrderID: sellOrder.OrderID,
			BuyerID:     buyOrder.AgentID,
			SellerID:    sellOrder.AgentID,
			Price:       price,
			Quantity:    qty,
			Timestamp:   time.Now().UTC(),
		}
		e.recordTrade(trade)
		e.registry.SetLastTradePrice(b.ticker, price)

		log.Info().
			Str("ticker", b.ticker).
			Str("trade_id", trade.TradeID).
			Str("buyer_id", trade.BuyerID).
			Str("seller_id", trade.SellerID).
			Int64("quantity", qty).
			Str("price", price.String()).
			Bool("primary", primary).
			Msg("trade executed")
	}
}

// restingAtFault decides which side of a failed settlement could not
// honor the trade. The ledger checks buyer cash before seller shares,
// so the error kind plus the incoming side identifies the culprit.
func (e *Engine) restingAtFault(err error, incoming *types.Order) bool {
	if incoming.Side == types.SideBuy {
		return err == types.ErrInsufficientShares
	}
	return err == types.ErrInsufficientFunds
}

// expireResting removes a resting order whose owner can no longer honor
// it. Caller holds b.mu.
func (e *Engine) expireResting(b *book, o *types.Order, cause error) {
	b.remove(o.OrderID)
	o.Status = types.OrderCancelled
	log.Warn().
		Err(cause).
		Str("order_id", o.OrderID).
		Str("agent_id", o.AgentID).
		Str("ticker", b.ticker).
		Msg("resting order no longer honorable, removed from book")
}

// CancelOrder removes an open order from the book. A second cancel on a
// terminal order is rejected, not silently accepted.
func (e *Engine) CancelOrder(orderID, agentID string) error {
	e.ordersMu.RLock()
	order, ok := e.orders[orderID]
	e.ordersMu.RUnlock()
	if !ok {
		return types.ErrOrderNotFound
	}

	b := e.bookFor(order.Ticker)
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.AgentID != agentID {
		return types.ErrNotOwner
	}
	if order.Status.Terminal() {
		return types.ErrAlreadyTerminal
	}
	b.remove(orderID)
	order.Status = types.OrderCancelled

	log.Info().
		Str("order_id", orderID).
		Str("agent_id", agentID).
		Str("ticker", order.Ticker).
		Int64("remaining", order.Remaining).
		Msg("order cancelled")
	return nil
}

// GetOrder returns a copy of an order's current state.
func (e *Engine) GetOrder(orderID string) (*types.Order, error) {
	e.ordersMu.RLock()
	order, ok := e.orders[orderID]
	e.ordersMu.RUnlock()
	if !ok {
		return nil, types.ErrOrderNotFound
	}
	b := e.bookFor(order.Ticker)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := *order
	return &out, nil
}

// LaunchIPO transitions the company to PUBLIC and places its unsold
// shares as a standing sell order owned by the company itself. This is
// the one path that injects sell liquidity without a matching buy.
func (e *Engine) LaunchIPO(ticker string, shares int64, price types.Amount) error {
	ticker = company.Normalize(ticker)
	b := e.bookFor(ticker)
	b.mu.Lock()
	defer b.mu.Unlock()

	comp, err := e.registry.BeginIPO(ticker, shares, price)
	if err != nil {
		return err
	}

	order := &types.Order{
		OrderID:    uuid.New().String(),
		AgentID:    types.CompanyAccountID(ticker),
		Ticker:     ticker,
		Side:       types.SideSell,
		Quantity:   shares,
		LimitPrice: price,
		Submitted:  e.seq.Add(1),
		Status:     types.OrderOpen,
		Remaining:  shares,
		CreatedAt:  time.Now().UTC(),
	}
	b.insert(order)

	e.ordersMu.Lock()
	e.orders[order.OrderID] = order
	e.ordersMu.Unlock()

	e.feed.Publish(types.NewsEvent{
		Category: types.NewsIPO,
		Ticker:   ticker,
		AgentID:  comp.FounderID,
		Message:  "IPO: $" + ticker + " released shares to the market at " + price.String(),
	})
	return nil
}

func (e *Engine) recordTrade(t types.Trade) {
	e.tradesMu.Lock()
	e.trades = append(e.trades, t)
	if len(e.trades) > maxTradeLog {
		e.trades = e.trades[len(e.trades)-maxTradeLog:]
	}
	points := append(e.history[t.Ticker], pricePoint{at: t.Timestamp, price: t.Price})
	cutoff := time.Now().Add(-24 * time.Hour)
	for len(points) > 0 && points[0].at.Before(cutoff) {
		points = points[1:]
	}
	e.history[t.Ticker] = points
	e.tradesMu.Unlock()

	e.feed.PublishTrade(t)
}

// ListTrades returns the most recent trades, newest first, optionally
// filtered to one ticker.
func (e *Engine) ListTrades(ticker string, limit int) []types.Trade {
	ticker = company.Normalize(ticker)
	e.tradesMu.RLock()
	defer e.tradesMu.RUnlock()
	out := make([]types.Trade, 0, limit)
	for i := len(e.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if ticker == "" || e.trades[i].Ticker == ticker {
			out = append(out, e.trades[i])
		}
	}
	return out
}

// MarketData builds the market summary for one ticker.
func (e *Engine) MarketData(ticker string) (*types.MarketData, error) {
	ticker = company.Normalize(ticker)
	comp, err := e.registry.Get(ticker)
	if err != nil {
		return nil, err
	}

	b := e.bookFor(ticker)
	b.mu.Lock()
	data := &types.MarketData{
		Ticker:    ticker,
		LastPrice: comp.LastTradePrice,
		MarketCap: comp.MarketCap(),
	}
	if bid := b.bestBid(); bid != nil {
		data.BestBid = bid.LimitPrice
	}
	if ask := b.bestAsk(); ask != nil {
		data.BestAsk = ask.LimitPrice
	}
	b.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	e.tradesMu.RLock()
	for _, t := range e.trades {
		if t.Ticker == ticker && t.Timestamp.After(cutoff) {
			data.Volume24h += t.Price.Mul(t.Quantity)
		}
	}
	points := e.history[ticker]
	var first types.Amount
	for _, p := range points {
		if p.at.Before(cutoff) {
			continue
		}
		if first == 0 {
			first = p.price
			data.High24h, data.Low24h = p.price, p.price
		}
		if p.price > data.High24h {
			data.High24h = p.price
		}
		if p.price < data.Low24h {
			data.Low24h = p.price
		}
	}
	e.tradesMu.RUnlock()

	if first == 0 {
		data.High24h, data.Low24h = comp.LastTradePrice, comp.LastTradePrice
	} else {
		data.Change24h = float64(comp.LastTradePrice-first) / float64(first) * 100
	}
	return data, nil
}

// OpenOrders returns a copy of every order still in a book, in
// submission order, with all books quiesced for a consistent cut.
func (e *Engine) OpenOrders() []types.Order {
	var out []types.Order
	e.withAllBooks(func(books []*book) {
		for _, b := range books {
			for _, side := range [][]*types.Order{b.bids, b.asks} {
				for _, o := range side {
					out = append(out, *o)
				}
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted < out[j].Submitted })
	return out
}

// RestoreOrders rebuilds the books from a snapshot. Callers must ensure
// the system is quiescent.
func (e *Engine) RestoreOrders(orders []types.Order) {
	e.mu.Lock()
	e.books = make(map[string]*book)
	e.mu.Unlock()

	e.ordersMu.Lock()
	e.orders = make(map[string]*types.Order, len(orders))
	e.ordersMu.Unlock()

	var maxSeq uint64
	for i := range orders {
		o := orders[i]
		restored := o
		b := e.bookFor(o.Ticker)
		b.mu.Lock()
		b.insert(&restored)
		b.mu.Unlock()
		e.ordersMu.Lock()
		e.orders[restored.OrderID] = &restored
		e.ordersMu.Unlock()
		if o.Submitted > maxSeq {
			maxSeq = o.Submitted
		}
	}
	e.seq.Store(maxSeq)
}

// withAllBooks runs fn while holding every book lock, acquired in
// ticker order to stay deadlock-free against per-ticker operations.
func (e *Engine) withAllBooks(fn func([]*book)) {
	e.mu.RLock()
	tickers := make([]string, 0, len(e.books))
	for t := range e.books {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	books := make([]*book, 0, len(tickers))
	for _, t := range tickers {
		books = append(books, e.books[t])
	}
	e.mu.RUnlock()

	for _, b := range books {
		b.mu.Lock()
	}
	defer func() {
		for _, b := range books {
			b.mu.Unlock()
		}
	}()
	fn(books)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
