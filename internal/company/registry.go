// Package company owns company metadata, treasuries, unsold share pools
// and IPO state. Cap tables are derived from the ledger, so the registry
// never duplicates holdings bookkeeping.
package company

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/types"
)

// DefaultTotalShares is the share count fixed at founding.
const DefaultTotalShares = 1_000_000

type entry struct {
	mu sync.Mutex
	c  types.Company
}

// Registry is the company store. Per-company mutation is serialized by
// the entry mutex; the outer lock only guards the map.
type Registry struct {
	mu        sync.RWMutex
	companies map[string]*entry

	ledger      *ledger.Ledger
	foundingFee types.Amount
}

func NewRegistry(l *ledger.Ledger, foundingFee types.Amount) *Registry {
	return &Registry{
		companies:   make(map[string]*entry),
		ledger:      l,
		foundingFee: foundingFee,
	}
}

// Found creates a new private company. The founding fee is debited from
// the founder and destroyed: it leaves circulation rather than entering
// the treasury. All shares start unsold.
func (r *Registry) Found(founderID, ticker, name, description, serviceType string, serviceCost types.Amount) (*types.Company, error) {
	ticker = Normalize(ticker)
	if ticker == "" || serviceCost < 0 {
		return nil, types.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.companies[ticker]; exists {
		return nil, types.ErrDuplicateTicker
	}

	// Debit before registering so a failed fee leaves no trace.
	if err := r.ledger.Debit(founderID, r.foundingFee); err != nil {
		return nil, err
	}

	e := &entry{
		c: types.Company{
			Ticker:       ticker,
			Name:         name,
			Description:  description,
			FounderID:    founderID,
			ServiceType:  serviceType,
			ServiceCost:  serviceCost,
			TotalShares:  DefaultTotalShares,
			UnsoldShares: DefaultTotalShares,
			IPOState:     types.CompanyPrivate,
			CreatedAt:    time.Now().UTC(),
		},
	}
	r.companies[ticker] = e

	log.Info().
		Str("ticker", ticker).
		Str("founder_id", founderID).
		Str("fee", r.foundingFee.String()).
		Msg("company founded")

	c := e.c
	return &c, nil
}

// FoundingFee returns the fee charged by Found.
func (r *Registry) FoundingFee() types.Amount {
	return r.foundingFee
}

func (r *Registry) lookup(ticker string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.companies[Normalize(ticker)]
	r.mu.RUnlock()
	if !ok {
		return nil, types.ErrUnknownTicker
	}
	return e, nil
}

// Get returns a copy of the company's current state.
func (r *Registry) Get(ticker string) (*types.Company, error) {
	e, err := r.lookup(ticker)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.c
	return &c, nil
}

// Exists reports whether the ticker is registered.
func (r *Registry) Exists(ticker string) bool {
	_, err := r.lookup(ticker)
	return err == nil
}

// Tickers returns all tickers in a deterministic order.
func (r *Registry) Tickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.companies))
	for t := range r.companies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// List returns a copy of every company.
func (r *Registry) List() []types.Company {
	tickers := r.Tickers()
	out := make([]types.Company, 0, len(tickers))
	for _, t := range tickers {
		if c, err := r.Get(t); err == nil {
			out = append(out, *c)
		}
	}
	return out
}

// BeginIPO validates the transition to PUBLIC and applies it, setting
// the initial reference price. The caller (the matching engine, which
// holds the ticker's book lock) places the standing sell order.
func (r *Registry) BeginIPO(ticker string, shares int64, price types.Amount) (*types.Company, error) {
	e, err := r.lookup(ticker)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.c.IPOState != types.CompanyPrivate {
		return nil, types.ErrAlreadyPublic
	}
	if shares <= 0 || shares > e.c.UnsoldShares {
		return nil, types.ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, types.ErrInvalidOrder
	}

	e.c.IPOState = types.CompanyPublic
	e.c.LastTradePrice = price

	log.Info().
		Str("ticker", e.c.Ticker).
		Int64("shares", shares).
		Str("price", price.String()).
		Msg("ipo launched")

	c := e.c
	return &c, nil
}

// RecordServiceUse charges the payer the company's service cost and
// accrues it as unrealized revenue. Revenue reaches the treasury only
// at the next settlement tick.
func (r *Registry) RecordServiceUse(ticker, payerID string) (types.Amount, error) {
	e, err := r.lookup(ticker)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.ledger.Debit(payerID, e.c.ServiceCost); err != nil {
		return 0, err
	}
	e.c.ServiceRevenue += e.c.ServiceCost
	e.c.ServiceUses++
	return e.c.ServiceCost, nil
}

// SettlePrimaryFill records a fill against the company's own IPO order:
// qty shares leave the unsold pool and the proceeds enter the treasury.
func (r *Registry) SettlePrimaryFill(ticker string, qty int64, proceeds types.Amount) error {
	e, err := r.lookup(ticker)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if qty > e.c.UnsoldShares {
		return types.ErrInsufficientShares
	}
	e.c.UnsoldShares -= qty
	e.c.Treasury += proceeds
	return nil
}

// SetLastTradePrice updates the reference price after a trade.
func (r *Registry) SetLastTradePrice(ticker string, price types.Amount) {
	if e, err := r.lookup(ticker); err == nil {
		e.mu.Lock()
		e.c.LastTradePrice = price
		e.mu.Unlock()
	}
}

// RealizeRevenue moves the accrued service revenue into the treasury
// and resets the accrual counter. Returns the amount moved.
func (r *Registry) RealizeRevenue(ticker string) (types.Amount, error) {
	e, err := r.lookup(ticker)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	moved := e.c.ServiceRevenue
	e.c.Treasury += moved
	e.c.ServiceRevenue = 0
	return moved, nil
}

// DebitTreasury removes a dividend payout total from the treasury.
func (r *Registry) DebitTreasury(ticker string, amount types.Amount) error {
	e, err := r.lookup(ticker)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.Treasury < amount {
		return types.ErrInsufficientFunds
	}
	e.c.Treasury -= amount
	return nil
}

// CapTable returns the current holders of the ticker with their counts.
func (r *Registry) CapTable(ticker string) (map[string]int64, error) {
	if _, err := r.lookup(ticker); err != nil {
		return nil, err
	}
	return r.ledger.HoldersOf(Normalize(ticker)), nil
}

// LastPrices returns every known ticker's last trade price, used for
// net-worth valuation.
func (r *Registry) LastPrices() map[string]types.Amount {
	prices := make(map[string]types.Amount)
	for _, c := range r.List() {
		prices[c.Ticker] = c.LastTradePrice
	}
	return prices
}

// Restore replaces the registry contents from a snapshot. Callers must
// ensure the system is quiescent.
func (r *Registry) Restore(companies []types.Company) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies = make(map[string]*entry, len(companies))
	for _, c := range companies {
		r.companies[c.Ticker] = &entry{c: c}
	}
}

// Normalize maps a user-supplied ticker to its canonical form.
func Normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
