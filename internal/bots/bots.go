// Package bots runs autonomous trading agents against the world. They
// keep markets liquid and give human-operated agents counterparties
// from the first minute.
package bots

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/types"
	"github.com/aiverse/aiverse-api/internal/world"
)

// View is the market context a strategy decides on.
type View struct {
	Companies []types.Company
	Markets   map[string]*types.MarketData
}

// Action is a single order a strategy wants placed. Price zero means
// market order.
type Action struct {
	Ticker   string
	Side     types.Side
	Quantity int64
	Price    types.Amount
}

// Strategy turns a market view and the bot's own position into an
// order, or nil to sit out the round.
type Strategy interface {
	Name() string
	Decide(view View, self *types.Agent, rng *rand.Rand) *Action
}

// publicTickers filters the view down to tradeable companies.
func publicTickers(view View) []types.Company {
	out := make([]types.Company, 0, len(view.Companies))
	for _, c := range view.Companies {
		if c.IPOState == types.CompanyPublic {
			out = append(out, c)
		}
	}
	return out
}

// jitterPrice moves a reference price by up to ±10%, staying positive.
func jitterPrice(ref types.Amount, rng *rand.Rand) types.Amount {
	if ref <= 0 {
		return 0
	}
	offset := int64(float64(ref) * (rng.Float64()*0.2 - 0.1))
	p := types.Amount(int64(ref) + offset)
	if p <= 0 {
		p = 1
	}
	return p
}

// holdingIn returns how many shares the bot owns in the ticker.
func holdingIn(self *types.Agent, ticker string) int64 {
	return self.Holdings[ticker]
}

// Random places small orders at prices near the last trade, either
// side. Pure noise trading.
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Decide(view View, self *types.Agent, rng *rand.Rand) *Action {
	public := publicTickers(view)
	if len(public) == 0 {
		return nil
	}
	comp := public[rng.Intn(len(public))]

	side := types.SideBuy
	if rng.Intn(2) == 1 && holdingIn(self, comp.Ticker) > 0 {
		side = types.SideSell
	}

	qty := int64(rng.Intn(10) + 1)
	if side == types.SideSell {
		if held := holdingIn(self, comp.Ticker); qty > held {
			qty = held
		}
	}
	if qty <= 0 {
		return nil
	}
	return &Action{
		Ticker:   comp.Ticker,
		Side:     side,
		Quantity: qty,
		Price:    jitterPrice(comp.LastTradePrice, rng),
	}
}

// Momentum buys what is rising and sells what is falling, by 24h
// change.
type Momentum struct{}

func (Momentum) Name() string { return "momentum" }

func (Momentum) Decide(view View, self *types.Agent, rng *rand.Rand) *Action {
	return trendAction(view, self, rng, false)
}

// Contrarian fades the move: sells rallies, buys dips.
type Contrarian struct{}

func (Contrarian) Name() string { return "contrarian" }

func (Contrarian) Decide(view View, self *types.Agent, rng *rand.Rand) *Action {
	return trendAction(view, self, rng, true)
}

func trendAction(view View, self *types.Agent, rng *rand.Rand, fade bool) *Action {
	public := publicTickers(view)
	if len(public) == 0 {
		return nil
	}

	var best *types.Company
	var bestChange float64
	for i := range public {
		md, ok := view.Markets[public[i].Ticker]
		if !ok || md.Change24h == 0 {
			continue
		}
		if best == nil || abs(md.Change24h) > abs(bestChange) {
			best = &public[i]
			bestChange = md.Change24h
		}
	}
	if best == nil {
		return nil
	}

	rising := bestChange > 0
	buy := rising != fade
	qty := int64(rng.Intn(5) + 1)

	if buy {
		return &Action{Ticker: best.Ticker, Side: types.SideBuy, Quantity: qty, Price: jitterPrice(best.LastTradePrice, rng)}
	}
	held := holdingIn(self, best.Ticker)
	if held == 0 {
		return nil
	}
	if qty > held {
		qty = held
	}
	return &Action{Ticker: best.Ticker, Side: types.SideSell, Quantity: qty, Price: jitterPrice(best.LastTradePrice, rng)}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Value anchors on ten times one service use as fair value: buys
// below it, sells above it.
type Value struct{}

func (Value) Name() string { return "value" }

func (Value) Decide(view View, self *types.Agent, rng *rand.Rand) *Action {
	public := publicTickers(view)
	if len(public) == 0 {
		return nil
	}

	// Widest mispricing wins.
	var pick *types.Company
	var pickGap float64
	for i := range public {
		c := &public[i]
		if c.LastTradePrice <= 0 || c.ServiceCost <= 0 {
			continue
		}
		fair := float64(c.ServiceCost.Mul(10))
		gap := (fair - float64(c.LastTradePrice)) / fair
		if pick == nil || abs(gap) > abs(pickGap) {
			pick = c
			pickGap = gap
		}
	}
	if pick == nil || abs(pickGap) < 0.05 {
		return nil
	}

	qty := int64(rng.Intn(5) + 1)
	if pickGap > 0 {
		return &Action{Ticker: pick.Ticker, Side: types.SideBuy, Quantity: qty, Price: jitterPrice(pick.LastTradePrice, rng)}
	}
	held := holdingIn(self, pick.Ticker)
	if held == 0 {
		return nil
	}
	if qty > held {
		qty = held
	}
	return &Action{Ticker: pick.Ticker, Side: types.SideSell, Quantity: qty, Price: jitterPrice(pick.LastTradePrice, rng)}
}

// bot pairs an agent identity with its strategy.
type bot struct {
	agentID  string
	strategy Strategy
	rng      *rand.Rand
}

// Manager joins the bots and drives them on an interval.
type Manager struct {
	world    *world.Service
	interval time.Duration
	bots     []*bot
}

var roster = []Strategy{Random{}, Momentum{}, Value{}, Contrarian{}}

// NewManager prepares count bots cycling through the strategy roster.
func NewManager(svc *world.Service, count int, interval time.Duration, seed int64) *Manager {
	m := &Manager{world: svc, interval: interval}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i++ {
		strat := roster[i%len(roster)]
		m.bots = append(m.bots, &bot{
			agentID:  fmt.Sprintf("bot-%s-%d", strat.Name(), i/len(roster)+1),
			strategy: strat,
			rng:      rand.New(rand.NewSource(rng.Int63())),
		})
	}
	return m
}

// Run joins the bots then trades until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for _, b := range m.bots {
		if _, err := m.world.Join(b.agentID, b.agentID); err != nil && !errors.Is(err, types.ErrDuplicateAgent) {
			return fmt.Errorf("join %s: %w", b.agentID, err)
		}
	}
	log.Info().Int("bots", len(m.bots)).Dur("interval", m.interval).Msg("bot manager started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bot manager stopping")
			return ctx.Err()
		case <-ticker.C:
			m.step()
		}
	}
}

// step gives every bot one decision against a shared market view.
func (m *Manager) step() {
	view := View{
		Companies: m.world.ListCompanies(),
		Markets:   make(map[string]*types.MarketData),
	}
	for _, c := range view.Companies {
		if md, err := m.world.GetMarket(c.Ticker); err == nil {
			view.Markets[c.Ticker] = md
		}
	}

	for _, b := range m.bots {
		self, err := m.world.GetAgent(b.agentID)
		if err != nil {
			continue
		}

		// Occasionally consume a service instead of trading, which
		// feeds company revenue.
		if len(view.Companies) > 0 && b.rng.Intn(5) == 0 {
			comp := view.Companies[b.rng.Intn(len(view.Companies))]
			if _, err := m.world.UseService(comp.Ticker, b.agentID); err == nil {
				continue
			}
		}

		action := b.strategy.Decide(view, self, b.rng)
		if action == nil {
			continue
		}
		if _, err := m.world.SubmitOrder(b.agentID, action.Ticker, action.Side, action.Quantity, action.Price); err != nil {
			log.Debug().
				Str("bot", b.agentID).
				Str("ticker", action.Ticker).
				Err(err).
				Msg("bot order rejected")
		}
	}
}
