package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverse/aiverse-api/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	return store
}

func TestLoadEmptyStore(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Agents)
	assert.Empty(t, snap.Companies)
	assert.Empty(t, snap.Orders)
	assert.Zero(t, snap.Tick)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	joined := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		Agents: []types.Agent{
			{
				AgentID:     "alice",
				Name:        "Alice",
				Cash:        types.Coins(950),
				Holdings:    map[string]int64{"CTX": 10, "FACT": 3},
				TotalTrades: 2,
				CreatedAt:   joined,
			},
			{
				AgentID:   "bob",
				Name:      "Bob",
				Cash:      types.Coins(1000),
				CreatedAt: joined.Add(time.Minute),
			},
		},
		Companies: []types.Company{
			{
				Ticker:         "CTX",
				Name:           "ContextCorp",
				Description:    "Context window extensions",
				FounderID:      "alice",
				ServiceType:    "context",
				ServiceCost:    types.Coins(5),
				TotalShares:    1_000_000,
				UnsoldShares:   999_987,
				Treasury:       types.Coins(650),
				IPOState:       types.CompanyPublic,
				LastTradePrice: types.Coins(50),
				ServiceRevenue: types.Coins(15),
				ServiceUses:    3,
				CreatedAt:      joined,
			},
		},
		Orders: []types.Order{
			{
				OrderID:    "ord-1",
				AgentID:    "bob",
				Ticker:     "CTX",
				Side:       types.SideBuy,
				Quantity:   20,
				LimitPrice: types.Coins(45),
				Submitted:  17,
				Status:     types.OrderPartiallyFilled,
				Remaining:  12,
				CreatedAt:  joined.Add(2 * time.Minute),
			},
		},
		Tick: 42,
	}

	require.NoError(t, store.Save(snap))

	got, err := store.Load()
	require.NoError(t, err)

	require.Len(t, got.Agents, 2)
	alice := got.Agents[0]
	if alice.AgentID != "alice" {
		alice = got.Agents[1]
	}
	assert.Equal(t, types.Coins(950), alice.Cash)
	assert.Equal(t, map[string]int64{"CTX": 10, "FACT": 3}, alice.Holdings)
	assert.Equal(t, int64(2), alice.TotalTrades)
	assert.True(t, alice.CreatedAt.Equal(joined))

	require.Len(t, got.Companies, 1)
	assert.Equal(t, snap.Companies[0].Ticker, got.Companies[0].Ticker)
	assert.Equal(t, snap.Companies[0].UnsoldShares, got.Companies[0].UnsoldShares)
	assert.Equal(t, snap.Companies[0].Treasury, got.Companies[0].Treasury)
	assert.Equal(t, snap.Companies[0].IPOState, got.Companies[0].IPOState)
	assert.Equal(t, snap.Companies[0].ServiceRevenue, got.Companies[0].ServiceRevenue)

	require.Len(t, got.Orders, 1)
	assert.Equal(t, snap.Orders[0].OrderID, got.Orders[0].OrderID)
	assert.Equal(t, snap.Orders[0].Side, got.Orders[0].Side)
	assert.Equal(t, snap.Orders[0].LimitPrice, got.Orders[0].LimitPrice)
	assert.Equal(t, snap.Orders[0].Submitted, got.Orders[0].Submitted)
	assert.Equal(t, snap.Orders[0].Status, got.Orders[0].Status)
	assert.Equal(t, snap.Orders[0].Remaining, got.Orders[0].Remaining)

	assert.Equal(t, uint64(42), got.Tick)
}

func TestSaveReplacesPrevious(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Snapshot{
		Agents: []types.Agent{{AgentID: "alice", Name: "Alice", Cash: types.Coins(100)}},
		Orders: []types.Order{{OrderID: "ord-1", AgentID: "alice", Ticker: "CTX", Side: types.SideBuy, Quantity: 1, Remaining: 1, Status: types.OrderOpen}},
		Tick:   1,
	}))
	require.NoError(t, store.Save(&Snapshot{
		Agents: []types.Agent{{AgentID: "bob", Name: "Bob", Cash: types.Coins(200)}},
		Tick:   2,
	}))

	got, err := store.Load()
	require.NoError(t, err)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "bob", got.Agents[0].AgentID)
	assert.Empty(t, got.Orders)
	assert.Equal(t, uint64(2), got.Tick)
}

func TestOrdersLoadedInSubmissionOrder(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Snapshot{
		Orders: []types.Order{
			{OrderID: "ord-b", Submitted: 9, Status: types.OrderOpen, Ticker: "CTX", Side: types.SideSell, Quantity: 1, Remaining: 1},
			{OrderID: "ord-a", Submitted: 4, Status: types.OrderOpen, Ticker: "CTX", Side: types.SideBuy, Quantity: 1, Remaining: 1},
		},
	}))

	got, err := store.Load()
	require.NoError(t, err)
	require.Len(t, got.Orders, 2)
	assert.Equal(t, "ord-a", got.Orders[0].OrderID)
	assert.Equal(t, "ord-b", got.Orders[1].OrderID)
}
