// Package ledger owns every agent's cash balance and share holdings.
// It is the only code allowed to mutate them, and it enforces the two
// hard rules of the economy: cash never goes negative and shares never
// appear or disappear in a transfer.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/aiverse/aiverse-api/internal/types"
)

// account pairs an agent with the mutex that serializes every mutation
// of that agent's cash and holdings, regardless of which component
// (matching, service use, settlement tick) drives it.
type account struct {
	mu    sync.Mutex
	agent types.Agent
}

// Ledger is the shared balance store. The outer mutex only guards the
// accounts map; per-agent state is guarded by the account mutex so
// different agents can be updated in parallel.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
	}
}

// Register creates a new agent with the given starting balance.
func (l *Ledger) Register(agentID, name string, initial types.Amount) (*types.Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[agentID]; exists {
		return nil, types.ErrDuplicateAgent
	}

	acc := &account{
		agent: types.Agent{
			AgentID:   agentID,
			Name:      name,
			Cash:      initial,
			Holdings:  make(map[string]int64),
			CreatedAt: time.Now().UTC(),
		},
	}
	l.accounts[agentID] = acc

	snapshot := cloneAgent(&acc.agent)
	return &snapshot, nil
}

func (l *Ledger) lookup(agentID string) (*account, error) {
	l.mu.RLock()
	acc, ok := l.accounts[agentID]
	l.mu.RUnlock()
	if !ok {
		return nil, types.ErrAgentNotFound
	}
	return acc, nil
}

// Get returns a copy of the agent's current state.
func (l *Ledger) Get(agentID string) (*types.Agent, error) {
	acc, err := l.lookup(agentID)
	if err != nil {
		return nil, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	snapshot := cloneAgent(&acc.agent)
	return &snapshot, nil
}

// Debit removes amount from the agent's cash, failing if the balance
// cannot cover it.
func (l *Ledger) Debit(agentID string, amount types.Amount) error {
	acc, err := l.lookup(agentID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.agent.Cash < amount {
		return types.ErrInsufficientFunds
	}
	acc.agent.Cash -= amount
	return nil
}

// Credit adds amount to the agent's cash. It never fails for a known
// agent.
func (l *Ledger) Credit(agentID string, amount types.Amount) error {
	acc, err := l.lookup(agentID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.agent.Cash += amount
	return nil
}

// Holdings returns the agent's share count for one ticker.
func (l *Ledger) Holdings(agentID, ticker string) (int64, error) {
	acc, err := l.lookup(agentID)
	if err != nil {
		return 0, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.agent.Holdings[ticker], nil
}

// TransferShares moves qty shares of ticker between two agents.
func (l *Ledger) TransferShares(ticker, from, to string, qty int64) error {
	fromAcc, err := l.lookup(from)
	if err != nil {
		return err
	}
	toAcc, err := l.lookup(to)
	if err != nil {
		return err
	}

	lockPair(fromAcc, toAcc, from, to)
	defer unlockPair(fromAcc, toAcc)

	if fromAcc.agent.Holdings[ticker] < qty {
		return types.ErrInsufficientShares
	}
	fromAcc.agent.Holdings[ticker] -= qty
	if fromAcc.agent.Holdings[ticker] == 0 {
		delete(fromAcc.agent.Holdings, ticker)
	}
	toAcc.agent.Holdings[ticker] += qty
	return nil
}

// SettleTrade performs the full cash-and-shares exchange of one trade
// between two agents as a single critical section over both accounts:
// no reader of either account can observe the cash moved without the
// corresponding share move.
func (l *Ledger) SettleTrade(ticker, buyerID, sellerID string, qty int64, total types.Amount) error {
	buyer, err := l.lookup(buyerID)
	if err != nil {
		return err
	}
	seller, err := l.lookup(sellerID)
	if err != nil {
		return err
	}

	lockPair(buyer, seller, buyerID, sellerID)
	defer unlockPair(buyer, seller)

	if buyer.agent.Cash < total {
		return types.ErrInsufficientFunds
	}
	if seller.agent.Holdings[ticker] < qty {
		return types.ErrInsufficientShares
	}

	buyer.agent.Cash -= total
	seller.agent.Cash += total
	seller.agent.Holdings[ticker] -= qty
	if seller.agent.Holdings[ticker] == 0 {
		delete(seller.agent.Holdings, ticker)
	}
	buyer.agent.Holdings[ticker] += qty
	buyer.agent.TotalTrades++
	seller.agent.TotalTrades++
	return nil
}

// SettlePrimary settles a fill against the company's own IPO order:
// the buyer pays and receives shares, but no agent receives the cash.
// The caller credits the company treasury and decrements the unsold
// pool under the ticker's lock.
func (l *Ledger) SettlePrimary(ticker, buyerID string, qty int64, total types.Amount) error {
	buyer, err := l.lookup(buyerID)
	if err != nil {
		return err
	}
	buyer.mu.Lock()
	defer buyer.mu.Unlock()

	if buyer.agent.Cash < total {
		return types.ErrInsufficientFunds
	}
	buyer.agent.Cash -= total
	buyer.agent.Holdings[ticker] += qty
	buyer.agent.TotalTrades++
	return nil
}

// AgentIDs returns all registered agent ids in a deterministic order.
func (l *Ledger) AgentIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns a copy of every agent.
func (l *Ledger) List() []types.Agent {
	ids := l.AgentIDs()
	agents := make([]types.Agent, 0, len(ids))
	for _, id := range ids {
		if a, err := l.Get(id); err == nil {
			agents = append(agents, *a)
		}
	}
	return agents
}

// HoldersOf returns the cap-table view for one ticker: every agent that
// holds at least one share, with its count.
func (l *Ledger) HoldersOf(ticker string) map[string]int64 {
	holders := make(map[string]int64)
	for _, id := range l.AgentIDs() {
		acc, err := l.lookup(id)
		if err != nil {
			continue
		}
		acc.mu.Lock()
		if qty := acc.agent.Holdings[ticker]; qty > 0 {
			holders[id] = qty
		}
		acc.mu.Unlock()
	}
	return holders
}

// NetWorth values the agent's cash plus holdings at the given prices.
func (l *Ledger) NetWorth(agentID string, prices map[string]types.Amount) (types.Amount, error) {
	agent, err := l.Get(agentID)
	if err != nil {
		return 0, err
	}
	worth := agent.Cash
	for ticker, qty := range agent.Holdings {
		worth += prices[ticker].Mul(qty)
	}
	return worth, nil
}

// Restore replaces the ledger contents with the given agents. Used by
// snapshot import; callers must ensure the system is quiescent.
func (l *Ledger) Restore(agents []types.Agent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[string]*account, len(agents))
	for _, a := range agents {
		l.accounts[a.AgentID] = &account{agent: cloneAgent(&a)}
	}
}

// lockPair acquires both account locks in a fixed global order (by
// agent id) so concurrent trades touching the same pair cannot
// deadlock.
func lockPair(a, b *account, aID, bID string) {
	if a == b {
		a.mu.Lock()
		return
	}
	if aID < bID {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *account) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

func cloneAgent(a *types.Agent) types.Agent {
	out := *a
	out.Holdings = make(map[string]int64, len(a.Holdings))
	for t, q := range a.Holdings {
		out.Holdings[t] = q
	}
	return out
}
