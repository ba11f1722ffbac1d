// Package world is the facade the API layer and the bots call. It
// composes the ledger, company registry, matching engine, settlement
// processor and news feed into the public operation set.
package world

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/company"
	"github.com/aiverse/aiverse-api/internal/exchange"
	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/news"
	"github.com/aiverse/aiverse-api/internal/settlement"
	"github.com/aiverse/aiverse-api/internal/snapshot"
	"github.com/aiverse/aiverse-api/internal/types"
)

// Service wires the core components together behind the operations the
// outside world is allowed to call.
type Service struct {
	ledger    *ledger.Ledger
	registry  *company.Registry
	engine    *exchange.Engine
	feed      *news.Feed
	processor *settlement.Processor

	// gate is read-held across every mutating operation, including the
	// settlement tick. Snapshot and RestoreSnapshot take it exclusively
	// so their multi-component cut sees no half-applied operation.
	gate sync.RWMutex

	joinGrant types.Amount
	startedAt time.Time
}

func NewService(l *ledger.Ledger, r *company.Registry, e *exchange.Engine, f *news.Feed, p *settlement.Processor, joinGrant types.Amount) *Service {
	s := &Service{
		ledger:    l,
		registry:  r,
		engine:    e,
		feed:      f,
		processor: p,
		joinGrant: joinGrant,
		startedAt: time.Now().UTC(),
	}
	p.SetGate(&s.gate)
	return s
}

// Join registers a new agent with the standard starting grant.
func (s *Service) Join(agentID, name string) (*types.Agent, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	agent, err := s.ledger.Register(agentID, name, s.joinGrant)
	if err != nil {
		return nil, err
	}

	log.Info().Str("agent_id", agentID).Str("name", name).Msg("agent joined")
	s.feed.Publish(types.NewsEvent{
		Category: types.NewsJoin,
		AgentID:  agentID,
		Message:  name + " joined AIVERSE with " + agent.Cash.String(),
	})
	return agent, nil
}

// FoundCompany creates a new private company for the founder.
func (s *Service) FoundCompany(founderID, ticker, name, description, serviceType string, serviceCost types.Amount) (*types.Company, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.foundCompany(founderID, ticker, name, description, serviceType, serviceCost)
}

func (s *Service) foundCompany(founderID, ticker, name, description, serviceType string, serviceCost types.Amount) (*types.Company, error) {
	comp, err := s.registry.Found(founderID, ticker, name, description, serviceType, serviceCost)
	if err != nil {
		return nil, err
	}

	founderName := founderID
	if founder, err := s.ledger.Get(founderID); err == nil {
		founderName = founder.Name
	}
	s.feed.Publish(types.NewsEvent{
		Category: types.NewsFounding,
		Ticker:   comp.Ticker,
		AgentID:  founderID,
		Message:  founderName + " founded " + comp.Name + " ($" + comp.Ticker + ")",
	})
	return comp, nil
}

// LaunchIPO takes a private company public.
func (s *Service) LaunchIPO(ticker string, shares int64, price types.Amount) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.engine.LaunchIPO(ticker, shares, price)
}

// SubmitOrder places an order; a zero or omitted price means market.
func (s *Service) SubmitOrder(agentID, ticker string, side types.Side, quantity int64, price types.Amount) (*types.Order, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.engine.SubmitOrder(agentID, ticker, side, quantity, price)
}

// CancelOrder withdraws an open order owned by the agent.
func (s *Service) CancelOrder(orderID, agentID string) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.engine.CancelOrder(orderID, agentID)
}

// GetOrder returns an order's current state.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.engine.GetOrder(orderID)
}

// UseService charges the payer for one use of the company's service.
func (s *Service) UseService(ticker, payerID string) (types.Amount, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.registry.RecordServiceUse(ticker, payerID)
}

// GetAgent returns an agent's current state.
func (s *Service) GetAgent(agentID string) (*types.Agent, error) {
	return s.ledger.Get(agentID)
}

// ListAgents returns every agent.
func (s *Service) ListAgents() []types.Agent {
	return s.ledger.List()
}

// LeaderboardEntry ranks one agent by net worth.
type LeaderboardEntry struct {
	Rank     int          `json:"rank"`
	AgentID  string       `json:"agent_id"`
	Name     string       `json:"name"`
	NetWorth types.Amount `json:"net_worth"`
	Trades   int64        `json:"trades"`
}

// Leaderboard ranks agents by cash plus holdings valued at last trade
// prices.
func (s *Service) Leaderboard(limit int) []LeaderboardEntry {
	prices := s.registry.LastPrices()
	agents := s.ledger.List()

	entries := make([]LeaderboardEntry, 0, len(agents))
	for _, a := range agents {
		worth := a.Cash
		for ticker, qty := range a.Holdings {
			worth += prices[ticker].Mul(qty)
		}
		entries = append(entries, LeaderboardEntry{
			AgentID:  a.AgentID,
			Name:     a.Name,
			NetWorth: worth,
			Trades:   a.TotalTrades,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].NetWorth > entries[j].NetWorth
	})
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// CompanyDetail is a company plus its live cap table.
type CompanyDetail struct {
	types.Company
	CapTable map[string]int64 `json:"cap_table"`
}

// GetCompany returns a company with its cap table.
func (s *Service) GetCompany(ticker string) (*CompanyDetail, error) {
	comp, err := s.registry.Get(ticker)
	if err != nil {
		return nil, err
	}
	capTable, err := s.registry.CapTable(ticker)
	if err != nil {
		return nil, err
	}
	return &CompanyDetail{Company: *comp, CapTable: capTable}, nil
}

// ListCompanies returns every company.
func (s *Service) ListCompanies() []types.Company {
	return s.registry.List()
}

// GetMarket returns the market summary for one ticker.
func (s *Service) GetMarket(ticker string) (*types.MarketData, error) {
	return s.engine.MarketData(ticker)
}

// ListTrades returns recent trades, newest first.
func (s *Service) ListTrades(ticker string, limit int) []types.Trade {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.engine.ListTrades(ticker, limit)
}

// ListNews returns recent news entries, newest first.
func (s *Service) ListNews(limit int) []types.NewsEvent {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	return s.feed.Recent(limit)
}

// Feed exposes the event feed for push transports.
func (s *Service) Feed() *news.Feed {
	return s.feed
}

// SeedSpec describes one bootstrap company.
type SeedSpec struct {
	Ticker      string
	Name        string
	Description string
	ServiceType string
	ServiceCost types.Amount
}

// DefaultSeeds are the companies a fresh world opens with, one per
// basic agent service.
var DefaultSeeds = []SeedSpec{
	{Ticker: "CTX", Name: "ContextCorp", Description: "Context window extensions", ServiceType: "context", ServiceCost: types.Amount(500)},
	{Ticker: "PROMPT", Name: "PromptWorks", Description: "Prompt rewriting and tuning", ServiceType: "prompt", ServiceCost: types.Amount(300)},
	{Ticker: "FACT", Name: "FactCheck Inc", Description: "Claim verification", ServiceType: "factcheck", ServiceCost: types.Amount(700)},
	{Ticker: "TOKEN", Name: "TokenMill", Description: "Bulk token generation", ServiceType: "tokens", ServiceCost: types.Amount(200)},
	{Ticker: "MOOD", Name: "MoodRing Labs", Description: "Sentiment analysis", ServiceType: "sentiment", ServiceCost: types.Amount(400)},
}

// ipoFraction of total shares is floated when a seed company goes
// public; the price is ten times one service use.
const (
	seedFounderID   = "aiverse-foundation"
	ipoFraction     = 0.30
	ipoCostMultiple = 10
)

// SeedCompanies bootstraps a fresh world with the default public
// companies. A no-op when the founder already exists, so restarts
// from a snapshot do not double-seed.
func (s *Service) SeedCompanies(seeds []SeedSpec) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	if _, err := s.ledger.Get(seedFounderID); err == nil {
		return nil
	}
	if _, err := s.ledger.Register(seedFounderID, "AIVERSE Foundation", 0); err != nil {
		return err
	}

	fee := s.registry.FoundingFee()
	for _, seed := range seeds {
		if err := s.ledger.Credit(seedFounderID, fee); err != nil {
			return err
		}
		if _, err := s.foundCompany(seedFounderID, seed.Ticker, seed.Name, seed.Description, seed.ServiceType, seed.ServiceCost); err != nil {
			return err
		}

		comp, err := s.registry.Get(seed.Ticker)
		if err != nil {
			return err
		}
		shares := int64(float64(comp.TotalShares) * ipoFraction)
		price := seed.ServiceCost.Mul(ipoCostMultiple)
		if err := s.engine.LaunchIPO(seed.Ticker, shares, price); err != nil {
			return err
		}
	}

	log.Info().Int("companies", len(seeds)).Msg("seed companies launched")
	return nil
}

// Snapshot captures the complete world state for persistence. The gate
// is held exclusively so no trade, service use or settlement tick can
// interleave with the cut; a saved snapshot always satisfies the
// conservation invariants.
func (s *Service) Snapshot() *snapshot.Snapshot {
	s.gate.Lock()
	defer s.gate.Unlock()

	return &snapshot.Snapshot{
		Agents:    s.ledger.List(),
		Companies: s.registry.List(),
		Orders:    s.engine.OpenOrders(),
		Tick:      s.processor.LastTick(),
	}
}

// RestoreSnapshot loads a previously captured world state. Call before
// the server starts accepting requests.
func (s *Service) RestoreSnapshot(snap *snapshot.Snapshot) {
	s.gate.Lock()
	defer s.gate.Unlock()

	s.ledger.Restore(snap.Agents)
	s.registry.Restore(snap.Companies)
	s.engine.RestoreOrders(snap.Orders)
	s.processor.RestoreTick(snap.Tick)

	log.Info().
		Int("agents", len(snap.Agents)).
		Int("companies", len(snap.Companies)).
		Int("open_orders", len(snap.Orders)).
		Uint64("tick", snap.Tick).
		Msg("world state restored")
}

// State is the global world summary.
type State struct {
	Tick           uint64                  `json:"tick"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	TotalAgents    int                     `json:"total_agents"`
	TotalCompanies int                     `json:"total_companies"`
	MarketCaps     map[string]types.Amount `json:"market_caps"`
	Leaderboard    []LeaderboardEntry      `json:"leaderboard"`
}

// GetState summarizes the world.
func (s *Service) GetState() State {
	companies := s.registry.List()
	caps := make(map[string]types.Amount, len(companies))
	for _, c := range companies {
		caps[c.Ticker] = c.MarketCap()
	}
	return State{
		Tick:           s.processor.LastTick(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		TotalAgents:    len(s.ledger.AgentIDs()),
		TotalCompanies: len(companies),
		MarketCaps:     caps,
		Leaderboard:    s.Leaderboard(5),
	}
}
