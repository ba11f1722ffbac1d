// Package settlement runs the periodic economy tick: universal income,
// revenue recognition, dividend distribution and the news that goes
// with them.
package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/company"
	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/news"
	"github.com/aiverse/aiverse-api/internal/types"
)

// Config carries the tunable economy parameters for one processor.
type Config struct {
	// Interval between ticks (one simulated "day").
	Interval time.Duration
	// UniversalIncome is credited to every agent each tick.
	UniversalIncome types.Amount
	// PayoutRatio is the fraction of a public company's treasury paid
	// out as dividends each tick.
	PayoutRatio float64
	// PriceMoveThreshold is the fractional price change since the
	// previous tick that earns a news entry (0.1 = 10%).
	PriceMoveThreshold float64
}

// Gate is read-held for the duration of a tick so an exclusive holder,
// such as a state snapshot, never observes a half-applied tick.
type Gate interface {
	RLock()
	RUnlock()
}

// Processor drives the settlement tick. A tick never overlaps itself,
// and each agent or company it touches is updated in its own critical
// section, so order matching on other entities proceeds during a tick.
type Processor struct {
	ledger   *ledger.Ledger
	registry *company.Registry
	feed     *news.Feed
	cfg      Config
	gate     Gate

	mu         sync.Mutex
	lastTick   uint64
	lastPrices map[string]types.Amount
}

func NewProcessor(l *ledger.Ledger, r *company.Registry, feed *news.Feed, cfg Config) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Processor{
		ledger:     l,
		registry:   r,
		feed:       feed,
		cfg:        cfg,
		lastPrices: make(map[string]types.Amount),
	}
}

// SetGate installs the tick gate. Call before Start.
func (p *Processor) SetGate(gate Gate) {
	p.gate = gate
}

// Start begins the settlement loop. It blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().
		Dur("interval", p.cfg.Interval).
		Str("universal_income", p.cfg.UniversalIncome.String()).
		Float64("payout_ratio", p.cfg.PayoutRatio).
		Msg("starting settlement processor")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.Tick(p.LastTick() + 1); err != nil {
				logger.Error().Err(err).Msg("settlement tick failed")
			}
		}
	}
}

// LastTick returns the id of the last applied tick.
func (p *Processor) LastTick() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTick
}

// RestoreTick sets the tick high-water mark, used by snapshot import.
func (p *Processor) RestoreTick(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTick = id
}

// Tick applies one settlement cycle. Ticks are keyed by id and applied
// at most once: re-running an interrupted tick is safe because an
// already-applied id is a no-op.
func (p *Processor) Tick(id uint64) error {
	if p.gate != nil {
		p.gate.RLock()
		defer p.gate.RUnlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id <= p.lastTick {
		log.Debug().Uint64("tick", id).Msg("tick already applied, skipping")
		return nil
	}

	logger := log.With().Str("component", "settlement_processor").Uint64("tick", id).Logger()

	// 1. Universal income for every agent.
	agents := p.ledger.AgentIDs()
	for _, agentID := range agents {
		if err := p.ledger.Credit(agentID, p.cfg.UniversalIncome); err != nil {
			return fmt.Errorf("universal income for %s: %w", agentID, err)
		}
	}
	logger.Info().
		Int("agents", len(agents)).
		Str("amount", p.cfg.UniversalIncome.String()).
		Msg("universal income credited")

	// 2. Realize accrued service revenue into treasuries.
	for _, ticker := range p.registry.Tickers() {
		moved, err := p.registry.RealizeRevenue(ticker)
		if err != nil {
			return fmt.Errorf("realize revenue for %s: %w", ticker, err)
		}
		if moved > 0 {
			logger.Debug().
				Str("ticker", ticker).
				Str("revenue", moved.String()).
				Msg("service revenue realized")
		}
	}

	// 3. Dividends for public companies with funded treasuries.
	for _, comp := range p.registry.List() {
		if comp.IPOState != types.CompanyPublic || comp.Treasury <= 0 {
			continue
		}
		if err := p.payDividends(&comp, logger); err != nil {
			return fmt.Errorf("dividends for %s: %w", comp.Ticker, err)
		}
	}

	// 4. Notable price moves since the previous tick.
	p.emitPriceMoves()

	p.lastTick = id
	return nil
}

// payDividends distributes treasury*payout_ratio pro rata across the
// cap table, flooring each holder's share. The undistributed remainder
// stays in the treasury, which keeps money conservation exact.
func (p *Processor) payDividends(comp *types.Company, logger zerolog.Logger) error {
	capTable, err := p.registry.CapTable(comp.Ticker)
	if err != nil {
		return err
	}

	var outstanding int64
	holders := make([]string, 0, len(capTable))
	for agentID, shares := range capTable {
		outstanding += shares
		holders = append(holders, agentID)
	}
	if outstanding == 0 {
		return nil
	}
	// Deterministic payout order.
	sort.Strings(holders)

	pool := types.Amount(int64(float64(comp.Treasury) * p.cfg.PayoutRatio))
	if pool <= 0 {
		return nil
	}

	var paid types.Amount
	for _, agentID := range holders {
		payout := types.Amount(int64(pool) * capTable[agentID] / outstanding)
		if payout <= 0 {
			continue
		}
		if err := p.ledger.Credit(agentID, payout); err != nil {
			return err
		}
		paid += payout
	}
	if paid == 0 {
		return nil
	}
	if err := p.registry.DebitTreasury(comp.Ticker, paid); err != nil {
		return err
	}

	logger.Info().
		Str("ticker", comp.Ticker).
		Str("paid", paid.String()).
		Int("holders", len(holders)).
		Msg("dividends paid")

	p.feed.Publish(types.NewsEvent{
		Category: types.NewsDividend,
		Ticker:   comp.Ticker,
		Message: fmt.Sprintf("Dividend: $%s paid %s across %d holders",
			comp.Ticker, paid.String(), len(holders)),
	})
	return nil
}

// emitPriceMoves publishes a news entry for every ticker whose price
// moved beyond the configured threshold since the previous tick.
func (p *Processor) emitPriceMoves() {
	for _, comp := range p.registry.List() {
		prev, seen := p.lastPrices[comp.Ticker]
		p.lastPrices[comp.Ticker] = comp.LastTradePrice
		if !seen || prev == 0 || comp.LastTradePrice == prev {
			continue
		}
		change := float64(comp.LastTradePrice-prev) / float64(prev)
		if change >= p.cfg.PriceMoveThreshold || change <= -p.cfg.PriceMoveThreshold {
			direction := "up"
			if change < 0 {
				direction = "down"
			}
			p.feed.Publish(types.NewsEvent{
				Category: types.NewsTradeMilestone,
				Ticker:   comp.Ticker,
				Message: fmt.Sprintf("$%s moved %s %.1f%% to %s",
					comp.Ticker, direction, change*100, comp.LastTradePrice.String()),
			})
		}
	}
}
