package company

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/types"
)

func newTestRegistry(t *testing.T) (*Registry, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	_, err := l.Register("founder", "Founder", types.Coins(50000))
	require.NoError(t, err)
	return NewRegistry(l, types.Coins(10000)), l
}

func TestFound(t *testing.T) {
	r, l := newTestRegistry(t)

	comp, err := r.Found("founder", "ctx ", "ContextCorp", "Context extensions", "context", types.Coins(5))
	require.NoError(t, err)
	assert.Equal(t, "CTX", comp.Ticker)
	assert.Equal(t, types.CompanyPrivate, comp.IPOState)
	assert.Equal(t, int64(DefaultTotalShares), comp.TotalShares)
	assert.Equal(t, int64(DefaultTotalShares), comp.UnsoldShares)
	assert.Equal(t, types.Amount(0), comp.Treasury)

	// The fee leaves circulation entirely.
	founder, err := l.Get("founder")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(40000), founder.Cash)
	assert.Equal(t, types.Amount(0), comp.Treasury)

	_, err = r.Found("founder", "CTX", "Clone", "", "", types.Coins(1))
	assert.ErrorIs(t, err, types.ErrDuplicateTicker)
}

func TestFoundInsufficientFunds(t *testing.T) {
	l := ledger.New()
	_, err := l.Register("poor", "Poor", types.Coins(10))
	require.NoError(t, err)
	r := NewRegistry(l, types.Coins(10000))

	_, err = r.Found("poor", "CTX", "ContextCorp", "", "", types.Coins(5))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	assert.False(t, r.Exists("CTX"))

	// The failed founding charged nothing.
	agent, err := l.Get("poor")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(10), agent.Cash)
}

func TestBeginIPO(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)

	_, err = r.BeginIPO("CTX", 0, types.Coins(50))
	assert.ErrorIs(t, err, types.ErrInvalidQuantity)

	_, err = r.BeginIPO("CTX", DefaultTotalShares+1, types.Coins(50))
	assert.ErrorIs(t, err, types.ErrInvalidQuantity)

	_, err = r.BeginIPO("CTX", 1000, 0)
	assert.ErrorIs(t, err, types.ErrInvalidOrder)

	comp, err := r.BeginIPO("CTX", 300000, types.Coins(50))
	require.NoError(t, err)
	assert.Equal(t, types.CompanyPublic, comp.IPOState)
	assert.Equal(t, types.Coins(50), comp.LastTradePrice)

	_, err = r.BeginIPO("CTX", 1000, types.Coins(50))
	assert.ErrorIs(t, err, types.ErrAlreadyPublic)

	_, err = r.BeginIPO("NOPE", 1000, types.Coins(50))
	assert.ErrorIs(t, err, types.ErrUnknownTicker)
}

func TestServiceRevenueLifecycle(t *testing.T) {
	r, l := newTestRegistry(t)
	_, err := r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	_, err = l.Register("user", "User", types.Coins(100))
	require.NoError(t, err)

	cost, err := r.RecordServiceUse("CTX", "user")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(5), cost)

	_, err = r.RecordServiceUse("CTX", "user")
	require.NoError(t, err)

	// Accrued, not yet in the treasury.
	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(10), comp.ServiceRevenue)
	assert.Equal(t, int64(2), comp.ServiceUses)
	assert.Equal(t, types.Amount(0), comp.Treasury)

	user, err := l.Get("user")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(90), user.Cash)

	moved, err := r.RealizeRevenue("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(10), moved)

	comp, err = r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(0), comp.ServiceRevenue)
	assert.Equal(t, types.Coins(10), comp.Treasury)
}

func TestServiceUseInsufficientFunds(t *testing.T) {
	r, l := newTestRegistry(t)
	_, err := r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(50))
	require.NoError(t, err)
	_, err = l.Register("broke", "Broke", types.Coins(1))
	require.NoError(t, err)

	_, err = r.RecordServiceUse("CTX", "broke")
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(0), comp.ServiceRevenue)
	assert.Equal(t, int64(0), comp.ServiceUses)
}

func TestSettlePrimaryFill(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)

	require.NoError(t, r.SettlePrimaryFill("CTX", 1000, types.Coins(50000)))

	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultTotalShares-1000), comp.UnsoldShares)
	assert.Equal(t, types.Coins(50000), comp.Treasury)

	err = r.SettlePrimaryFill("CTX", DefaultTotalShares, types.Coins(1))
	assert.ErrorIs(t, err, types.ErrInsufficientShares)
}

func TestDebitTreasury(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	require.NoError(t, r.SettlePrimaryFill("CTX", 10, types.Coins(100)))

	assert.ErrorIs(t, r.DebitTreasury("CTX", types.Coins(200)), types.ErrInsufficientFunds)
	require.NoError(t, r.DebitTreasury("CTX", types.Coins(40)))

	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(60), comp.Treasury)
}

func TestLastPricesAndNormalize(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Found("founder", "ctx", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)

	r.SetLastTradePrice("Ctx", types.Coins(77))
	prices := r.LastPrices()
	assert.Equal(t, types.Coins(77), prices["CTX"])

	assert.Equal(t, "CTX", Normalize("  ctx "))
	assert.True(t, r.Exists("cTx"))
}
