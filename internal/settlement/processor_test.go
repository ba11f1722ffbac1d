package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverse/aiverse-api/internal/company"
	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/news"
	"github.com/aiverse/aiverse-api/internal/types"
)

func newTestProcessor(t *testing.T, cfg Config) (*Processor, *ledger.Ledger, *company.Registry, *news.Feed) {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	l := ledger.New()
	r := company.NewRegistry(l, types.Coins(10000))
	feed := news.NewFeed(100)
	return NewProcessor(l, r, feed, cfg), l, r, feed
}

func TestTickUniversalIncome(t *testing.T) {
	p, l, _, _ := newTestProcessor(t, Config{UniversalIncome: types.Coins(1000)})
	for _, id := range []string{"alice", "bob", "carol"} {
		_, err := l.Register(id, id, types.Coins(10))
		require.NoError(t, err)
	}

	require.NoError(t, p.Tick(1))

	for _, id := range []string{"alice", "bob", "carol"} {
		agent, err := l.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.Coins(1010), agent.Cash, id)
	}
	assert.Equal(t, uint64(1), p.LastTick())
}

func TestTickIdempotent(t *testing.T) {
	p, l, _, _ := newTestProcessor(t, Config{UniversalIncome: types.Coins(1000)})
	_, err := l.Register("alice", "Alice", 0)
	require.NoError(t, err)

	require.NoError(t, p.Tick(1))
	require.NoError(t, p.Tick(1)) // replay is a no-op
	require.NoError(t, p.Tick(2))

	agent, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(2000), agent.Cash)
	assert.Equal(t, uint64(2), p.LastTick())
}

func TestTickRealizesRevenue(t *testing.T) {
	p, l, r, _ := newTestProcessor(t, Config{})
	_, err := l.Register("founder", "Founder", types.Coins(10000))
	require.NoError(t, err)
	_, err = r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	_, err = l.Register("user", "User", types.Coins(100))
	require.NoError(t, err)

	_, err = r.RecordServiceUse("CTX", "user")
	require.NoError(t, err)
	_, err = r.RecordServiceUse("CTX", "user")
	require.NoError(t, err)

	require.NoError(t, p.Tick(1))

	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(0), comp.ServiceRevenue)
	assert.Equal(t, types.Coins(10), comp.Treasury)
}

func TestDividendDistribution(t *testing.T) {
	p, l, r, feed := newTestProcessor(t, Config{PayoutRatio: 0.5})
	_, err := l.Register("founder", "Founder", types.Coins(10000))
	require.NoError(t, err)
	_, err = r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	_, err = r.BeginIPO("CTX", 1000, types.Coins(10))
	require.NoError(t, err)

	// Treasury of 10,000 coins; holders own 600 and 400 shares.
	require.NoError(t, r.SettlePrimaryFill("CTX", 1000, types.Coins(10000)))
	_, err = l.Register("big", "Big", 0)
	require.NoError(t, err)
	_, err = l.Register("small", "Small", 0)
	require.NoError(t, err)
	require.NoError(t, l.SettlePrimary("CTX", "big", 600, 0))
	require.NoError(t, l.SettlePrimary("CTX", "small", 400, 0))

	require.NoError(t, p.Tick(1))

	// Pool is 5,000 coins: 3,000 to the 60% holder, 2,000 to the 40%
	// holder, 5,000 retained.
	big, err := l.Get("big")
	require.NoError(t, err)
	small, err := l.Get("small")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(3000), big.Cash)
	assert.Equal(t, types.Coins(2000), small.Cash)

	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(5000), comp.Treasury)

	events := feed.Recent(10)
	var sawDividend bool
	for _, ev := range events {
		if ev.Category == types.NewsDividend && ev.Ticker == "CTX" {
			sawDividend = true
		}
	}
	assert.True(t, sawDividend, "dividend news expected")
}

func TestDividendRemainderRetained(t *testing.T) {
	p, l, r, _ := newTestProcessor(t, Config{PayoutRatio: 0.5})
	_, err := l.Register("founder", "Founder", types.Coins(10000))
	require.NoError(t, err)
	_, err = r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	_, err = r.BeginIPO("CTX", 1000, types.Coins(10))
	require.NoError(t, err)

	// 101-cent treasury: pool floors to 50, per-holder floors again.
	require.NoError(t, r.SettlePrimaryFill("CTX", 3, types.Amount(101)))
	for _, id := range []string{"a", "b", "c"} {
		_, err = l.Register(id, id, 0)
		require.NoError(t, err)
		require.NoError(t, l.SettlePrimary("CTX", id, 1, 0))
	}

	require.NoError(t, p.Tick(1))

	// 50/3 floors to 16 cents per holder, 48 paid, 53 retained.
	var paid types.Amount
	for _, id := range []string{"a", "b", "c"} {
		agent, err := l.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.Amount(16), agent.Cash)
		paid += agent.Cash
	}
	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(101)-paid, comp.Treasury)
}

func TestPrivateCompanyPaysNoDividends(t *testing.T) {
	p, l, r, _ := newTestProcessor(t, Config{PayoutRatio: 0.5})
	_, err := l.Register("founder", "Founder", types.Coins(10000))
	require.NoError(t, err)
	_, err = r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	require.NoError(t, r.SettlePrimaryFill("CTX", 0, types.Coins(100)))

	require.NoError(t, p.Tick(1))

	comp, err := r.Get("CTX")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(100), comp.Treasury)
}

func TestPriceMoveNews(t *testing.T) {
	p, l, r, feed := newTestProcessor(t, Config{PriceMoveThreshold: 0.05})
	_, err := l.Register("founder", "Founder", types.Coins(10000))
	require.NoError(t, err)
	_, err = r.Found("founder", "CTX", "ContextCorp", "", "", types.Coins(5))
	require.NoError(t, err)
	_, err = r.BeginIPO("CTX", 1000, types.Coins(100))
	require.NoError(t, err)

	// First tick only records the baseline.
	require.NoError(t, p.Tick(1))

	// +3% stays quiet.
	r.SetLastTradePrice("CTX", types.Coins(103))
	require.NoError(t, p.Tick(2))
	for _, ev := range feed.Recent(10) {
		assert.NotEqual(t, types.NewsTradeMilestone, ev.Category)
	}

	// -10% from the new baseline makes news.
	r.SetLastTradePrice("CTX", types.Amount(9270)) // 92.70 from 103.00
	require.NoError(t, p.Tick(3))
	var sawMove bool
	for _, ev := range feed.Recent(10) {
		if ev.Category == types.NewsTradeMilestone && ev.Ticker == "CTX" {
			sawMove = true
		}
	}
	assert.True(t, sawMove, "price move news expected")
}

func TestRestoreTick(t *testing.T) {
	p, l, _, _ := newTestProcessor(t, Config{UniversalIncome: types.Coins(1)})
	_, err := l.Register("alice", "Alice", 0)
	require.NoError(t, err)

	p.RestoreTick(41)
	require.NoError(t, p.Tick(41)) // replay of an applied tick: no-op

	agent, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(0), agent.Cash)

	require.NoError(t, p.Tick(42))
	agent, err = l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, types.Coins(1), agent.Cash)
	assert.Equal(t, uint64(42), p.LastTick())
}
