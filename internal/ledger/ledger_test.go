package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverse/aiverse-api/internal/types"
)

func TestRegisterAndGet(t *testing.T) {
	l := New()

	agent, err := l.Register("alice", "Alice", types.Coins(1000))
	require.NoError(t, err)
	assert.Equal(t, "alice", agent.AgentID)
	assert.Equal(t, types.Coins(1000), agent.Cash)

	_, err = l.Register("alice", "Alice Again", 0)
	assert.ErrorIs(t, err, types.ErrDuplicateAgent)

	got, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(1000), got.Cash)

	_, err = l.Get("nobody")
	assert.ErrorIs(t, err, types.ErrAgentNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	l := New()
	_, err := l.Register("alice", "Alice", types.Coins(100))
	require.NoError(t, err)

	got, err := l.Get("alice")
	require.NoError(t, err)
	got.Cash = 0
	got.Holdings["CTX"] = 999

	fresh, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), fresh.Cash)
	assert.Empty(t, fresh.Holdings)
}

func TestDebitCredit(t *testing.T) {
	l := New()
	_, err := l.Register("alice", "Alice", types.Coins(100))
	require.NoError(t, err)

	require.NoError(t, l.Debit("alice", types.Coins(40)))
	require.NoError(t, l.Credit("alice", types.Coins(15)))

	got, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(75), got.Cash)

	err = l.Debit("alice", types.Coins(100))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	// Balance untouched by the failed debit.
	got, err = l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(75), got.Cash)
}

func TestSettleTrade(t *testing.T) {
	l := New()
	_, err := l.Register("buyer", "Buyer", types.Coins(1000))
	require.NoError(t, err)
	_, err = l.Register("seller", "Seller", 0)
	require.NoError(t, err)

	seller, _ := l.lookup("seller")
	seller.agent.Holdings["CTX"] = 50

	require.NoError(t, l.SettleTrade("CTX", "buyer", "seller", 20, types.Coins(200)))

	buyerState, err := l.Get("buyer")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(800), buyerState.Cash)
	assert.Equal(t, int64(20), buyerState.Holdings["CTX"])
	assert.Equal(t, int64(1), buyerState.TotalTrades)

	sellerState, err := l.Get("seller")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(200), sellerState.Cash)
	assert.Equal(t, int64(30), sellerState.Holdings["CTX"])
	assert.Equal(t, int64(1), sellerState.TotalTrades)
}

func TestSettleTradeInsufficient(t *testing.T) {
	l := New()
	_, err := l.Register("buyer", "Buyer", types.Coins(10))
	require.NoError(t, err)
	_, err = l.Register("seller", "Seller", 0)
	require.NoError(t, err)
	seller, _ := l.lookup("seller")
	seller.agent.Holdings["CTX"] = 5

	// Buyer short on cash.
	err = l.SettleTrade("CTX", "buyer", "seller", 5, types.Coins(100))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	// Seller short on shares.
	err = l.SettleTrade("CTX", "buyer", "seller", 10, types.Coins(5))
	assert.ErrorIs(t, err, types.ErrInsufficientShares)

	// Nothing moved.
	buyerState, _ := l.Get("buyer")
	sellerState, _ := l.Get("seller")
	assert.Equal(t, types.Coins(10), buyerState.Cash)
	assert.Equal(t, int64(5), sellerState.Holdings["CTX"])
}

func TestSettlePrimary(t *testing.T) {
	l := New()
	_, err := l.Register("buyer", "Buyer", types.Coins(500))
	require.NoError(t, err)

	require.NoError(t, l.SettlePrimary("CTX", "buyer", 10, types.Coins(300)))

	got, err := l.Get("buyer")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(200), got.Cash)
	assert.Equal(t, int64(10), got.Holdings["CTX"])

	err = l.SettlePrimary("CTX", "buyer", 10, types.Coins(300))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
}

func TestTransferSharesRemovesEmptyEntries(t *testing.T) {
	l := New()
	_, err := l.Register("a", "A", 0)
	require.NoError(t, err)
	_, err = l.Register("b", "B", 0)
	require.NoError(t, err)
	acc, _ := l.lookup("a")
	acc.agent.Holdings["CTX"] = 10

	require.NoError(t, l.TransferShares("CTX", "a", "b", 10))

	aState, _ := l.Get("a")
	_, stillThere := aState.Holdings["CTX"]
	assert.False(t, stillThere)

	holders := l.HoldersOf("CTX")
	assert.Equal(t, map[string]int64{"b": 10}, holders)
}

func TestNetWorth(t *testing.T) {
	l := New()
	_, err := l.Register("alice", "Alice", types.Coins(100))
	require.NoError(t, err)
	acc, _ := l.lookup("alice")
	acc.agent.Holdings["CTX"] = 4
	acc.agent.Holdings["MOOD"] = 2

	prices := map[string]types.Amount{
		"CTX":  types.Coins(50),
		"MOOD": types.Coins(25),
	}
	worth, err := l.NetWorth("alice", prices)
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100+200+50), worth)
}

func TestConcurrentSettlesConserveTotals(t *testing.T) {
	l := New()
	for i := 0; i < 4; i++ {
		_, err := l.Register(fmt.Sprintf("agent-%d", i), "Agent", types.Coins(1000))
		require.NoError(t, err)
		acc, _ := l.lookup(fmt.Sprintf("agent-%d", i))
		acc.agent.Holdings["CTX"] = 100
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				continue
			}
			wg.Add(1)
			go func(buyer, seller string) {
				defer wg.Done()
				for n := 0; n < 50; n++ {
					_ = l.SettleTrade("CTX", buyer, seller, 1, types.Coins(1))
				}
			}(fmt.Sprintf("agent-%d", i), fmt.Sprintf("agent-%d", j))
		}
	}
	wg.Wait()

	var totalCash types.Amount
	var totalShares int64
	for _, a := range l.List() {
		totalCash += a.Cash
		totalShares += a.Holdings["CTX"]
	}
	assert.Equal(t, types.Coins(4000), totalCash)
	assert.Equal(t, int64(400), totalShares)
}

func TestRestore(t *testing.T) {
	l := New()
	_, err := l.Register("old", "Old", types.Coins(1))
	require.NoError(t, err)

	l.Restore([]types.Agent{
		{AgentID: "alice", Name: "Alice", Cash: types.Coins(42), Holdings: map[string]int64{"CTX": 3}},
	})

	_, err = l.Get("old")
	assert.ErrorIs(t, err, types.ErrAgentNotFound)

	got, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(42), got.Cash)
	assert.Equal(t, int64(3), got.Holdings["CTX"])
}
