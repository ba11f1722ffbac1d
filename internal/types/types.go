package types

import (
	"fmt"
	"time"
)

// Amount is a fixed-point quantity of ₳ (AICoin), stored in cents.
// All balances, prices and treasuries use Amount so that conservation
// checks are exact.
type Amount int64

// Coins builds an Amount from a whole number of ₳.
func Coins(n int64) Amount {
	return Amount(n * 100)
}

// Mul returns the amount for qty shares at this per-share price.
func (a Amount) Mul(qty int64) Amount {
	return a * Amount(qty)
}

func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d₳", a/100, func() Amount {
		if a < 0 {
			return -a % 100
		}
		return a % 100
	}())
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal orders never
// re-enter the book.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

type IPOState string

const (
	CompanyPrivate IPOState = "PRIVATE"
	CompanyPublic  IPOState = "PUBLIC"
)

// Agent is a participant in the economy. Cash and holdings are mutated
// only through the ledger.
type Agent struct {
	AgentID     string           `json:"agent_id"`
	Name        string           `json:"name"`
	Cash        Amount           `json:"cash"`
	Holdings    map[string]int64 `json:"holdings"`
	TotalTrades int64            `json:"total_trades"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Company is a founded enterprise with a tradable ticker. UnsoldShares
// plus the sum of all agent holdings for the ticker always equals
// TotalShares.
type Company struct {
	Ticker         string    `json:"ticker"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	FounderID      string    `json:"founder_id"`
	ServiceType    string    `json:"service_type"`
	ServiceCost    Amount    `json:"service_cost"`
	TotalShares    int64     `json:"total_shares"`
	UnsoldShares   int64     `json:"unsold_shares"`
	Treasury       Amount    `json:"treasury"`
	IPOState       IPOState  `json:"ipo_state"`
	LastTradePrice Amount    `json:"last_trade_price"`
	// ServiceRevenue accrues between settlement ticks and is moved into
	// the treasury when a tick runs.
	ServiceRevenue Amount    `json:"service_revenue"`
	ServiceUses    int64     `json:"service_uses"`
	CreatedAt      time.Time `json:"created_at"`
}

// MarketCap is the company's total shares valued at the last trade price.
func (c *Company) MarketCap() Amount {
	return c.LastTradePrice.Mul(c.TotalShares)
}

// CompanyAccountID is the synthetic account a company sells its own
// shares from during an IPO. Fills against it settle into the treasury.
func CompanyAccountID(ticker string) string {
	return "company:" + ticker
}

// Order is a buy or sell instruction for one ticker. LimitPrice zero is
// the market-order sentinel: cross at any available price, never rest.
type Order struct {
	OrderID    string      `json:"order_id"`
	AgentID    string      `json:"agent_id"`
	Ticker     string      `json:"ticker"`
	Side       Side        `json:"side"`
	Quantity   int64       `json:"quantity"`
	LimitPrice Amount      `json:"limit_price"`
	// Submitted is a monotonic sequence number used for FIFO tie-breaks
	// among resting orders at the same price.
	Submitted uint64      `json:"submitted"`
	Status    OrderStatus `json:"status"`
	Remaining int64       `json:"remaining_quantity"`
	CreatedAt time.Time   `json:"created_at"`
}

func (o *Order) Market() bool {
	return o.LimitPrice == 0
}

func (o *Order) FilledQty() int64 {
	return o.Quantity - o.Remaining
}

// Trade is an executed match. Trades are facts and are never revised.
type Trade struct {
	TradeID     string    `json:"trade_id"`
	Ticker      string    `json:"ticker"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	Price       Amount    `json:"price"`
	Quantity    int64     `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
}

type NewsCategory string

const (
	NewsFounding       NewsCategory = "FOUNDING"
	NewsIPO            NewsCategory = "IPO"
	NewsTradeMilestone NewsCategory = "TRADE_MILESTONE"
	NewsDividend       NewsCategory = "DIVIDEND"
	NewsJoin           NewsCategory = "JOIN"
)

// NewsEvent is one entry in the append-only news feed.
type NewsEvent struct {
	EventID   string       `json:"event_id"`
	Category  NewsCategory `json:"category"`
	Ticker    string       `json:"ticker,omitempty"`
	AgentID   string       `json:"agent_id,omitempty"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// MarketData is the per-ticker market summary returned by queries.
type MarketData struct {
	Ticker    string  `json:"ticker"`
	LastPrice Amount  `json:"last_price"`
	BestBid   Amount  `json:"best_bid"`
	BestAsk   Amount  `json:"best_ask"`
	Volume24h Amount  `json:"volume_24h"`
	High24h   Amount  `json:"high_24h"`
	Low24h    Amount  `json:"low_24h"`
	Change24h float64 `json:"change_24h"`
	MarketCap Amount  `json:"market_cap"`
}
