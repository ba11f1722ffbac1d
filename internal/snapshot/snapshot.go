// Package snapshot persists and restores the complete world state:
// agents, companies, open orders and the settlement tick high-water
// mark. A snapshot taken at a quiescent point round-trips losslessly.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aiverse/aiverse-api/internal/types"
)

// AgentRecord is the persisted form of a ledger account.
type AgentRecord struct {
	gorm.Model  `json:"-"`
	AgentID     string    `gorm:"uniqueIndex" json:"agent_id"`
	Name        string    `json:"name"`
	CashCents   int64     `json:"cash_cents"`
	Holdings    string    `json:"holdings"` // JSON map ticker -> share count
	TotalTrades int64     `json:"total_trades"`
	JoinedAt    time.Time `json:"joined_at"`
}

// CompanyRecord is the persisted form of a registry entry.
type CompanyRecord struct {
	gorm.Model       `json:"-"`
	Ticker           string    `gorm:"uniqueIndex" json:"ticker"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	FounderID        string    `json:"founder_id"`
	ServiceType      string    `json:"service_type"`
	ServiceCostCents int64     `json:"service_cost_cents"`
	TotalShares      int64     `json:"total_shares"`
	UnsoldShares     int64     `json:"unsold_shares"`
	TreasuryCents    int64     `json:"treasury_cents"`
	IPOState         string    `json:"ipo_state"`
	LastTradeCents   int64     `json:"last_trade_cents"`
	ServiceRevCents  int64     `json:"service_revenue_cents"`
	ServiceUses      int64     `json:"service_uses"`
	FoundedAt        time.Time `json:"founded_at"`
}

// OrderRecord is the persisted form of an open order.
type OrderRecord struct {
	gorm.Model      `json:"-"`
	OrderID         string    `gorm:"uniqueIndex" json:"order_id"`
	AgentID         string    `json:"agent_id"`
	Ticker          string    `json:"ticker"`
	Side            string    `json:"side"`
	Quantity        int64     `json:"quantity"`
	LimitPriceCents int64     `json:"limit_price_cents"`
	Submitted       uint64    `json:"submitted"`
	Status          string    `json:"status"`
	Remaining       int64     `json:"remaining"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// MetaRecord holds scalar state such as the last settlement tick.
type MetaRecord struct {
	gorm.Model `json:"-"`
	Key        string `gorm:"uniqueIndex" json:"key"`
	Value      string `json:"value"`
}

const metaTickKey = "last_tick"

// Snapshot is the in-memory form of a full world export.
type Snapshot struct {
	Agents    []types.Agent
	Companies []types.Company
	Orders    []types.Order
	Tick      uint64
}

// Store is the sqlite-backed snapshot store.
type Store struct {
	db *gorm.DB
}

// Open initializes the store and runs migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	if err := db.AutoMigrate(
		&AgentRecord{},
		&CompanyRecord{},
		&OrderRecord{},
		&MetaRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes the snapshot, replacing any previous one, in a single
// transaction.
func (s *Store) Save(snap *Snapshot) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// Hard delete: a soft delete would leave the unique natural keys
		// behind and the next insert would collide with them.
		for _, model := range []interface{}{&AgentRecord{}, &CompanyRecord{}, &OrderRecord{}, &MetaRecord{}} {
			if err := tx.Unscoped().Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}

		for _, a := range snap.Agents {
			holdings, err := json.Marshal(a.Holdings)
			if err != nil {
				return err
			}
			rec := AgentRecord{
				AgentID:     a.AgentID,
				Name:        a.Name,
				CashCents:   int64(a.Cash),
				Holdings:    string(holdings),
				TotalTrades: a.TotalTrades,
				JoinedAt:    a.CreatedAt,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}

		for _, c := range snap.Companies {
			rec := CompanyRecord{
				Ticker:           c.Ticker,
				Name:             c.Name,
				Description:      c.Description,
				FounderID:        c.FounderID,
				ServiceType:      c.ServiceType,
				ServiceCostCents: int64(c.ServiceCost),
				TotalShares:      c.TotalShares,
				UnsoldShares:     c.UnsoldShares,
				TreasuryCents:    int64(c.Treasury),
				IPOState:         string(c.IPOState),
				LastTradeCents:   int64(c.LastTradePrice),
				ServiceRevCents:  int64(c.ServiceRevenue),
				ServiceUses:      c.ServiceUses,
				FoundedAt:        c.CreatedAt,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}

		for _, o := range snap.Orders {
			rec := OrderRecord{
				OrderID:         o.OrderID,
				AgentID:         o.AgentID,
				Ticker:          o.Ticker,
				Side:            string(o.Side),
				Quantity:        o.Quantity,
				LimitPriceCents: int64(o.LimitPrice),
				Submitted:       o.Submitted,
				Status:          string(o.Status),
				Remaining:       o.Remaining,
				SubmittedAt:     o.CreatedAt,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}

		meta := MetaRecord{Key: metaTickKey, Value: strconv.FormatUint(snap.Tick, 10)}
		return tx.Create(&meta).Error
	})
}

// Load reads the latest snapshot. An empty store yields an empty
// snapshot, not an error.
func (s *Store) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	var agents []AgentRecord
	if err := s.db.Find(&agents).Error; err != nil {
		return nil, err
	}
	for _, rec := range agents {
		holdings := make(map[string]int64)
		if rec.Holdings != "" {
			if err := json.Unmarshal([]byte(rec.Holdings), &holdings); err != nil {
				return nil, fmt.Errorf("decode holdings for %s: %w", rec.AgentID, err)
			}
		}
		snap.Agents = append(snap.Agents, types.Agent{
			AgentID:     rec.AgentID,
			Name:        rec.Name,
			Cash:        types.Amount(rec.CashCents),
			Holdings:    holdings,
			TotalTrades: rec.TotalTrades,
			CreatedAt:   rec.JoinedAt,
		})
	}

	var companies []CompanyRecord
	if err := s.db.Find(&companies).Error; err != nil {
		return nil, err
	}
	for _, rec := range companies {
		snap.Companies = append(snap.Companies, types.Company{
			Ticker:         rec.Ticker,
			Name:           rec.Name,
			Description:    rec.Description,
			FounderID:      rec.FounderID,
			ServiceType:    rec.ServiceType,
			ServiceCost:    types.Amount(rec.ServiceCostCents),
			TotalShares:    rec.TotalShares,
			UnsoldShares:   rec.UnsoldShares,
			Treasury:       types.Amount(rec.TreasuryCents),
			IPOState:       types.IPOState(rec.IPOState),
			LastTradePrice: types.Amount(rec.LastTradeCents),
			ServiceRevenue: types.Amount(rec.ServiceRevCents),
			ServiceUses:    rec.ServiceUses,
			CreatedAt:      rec.FoundedAt,
		})
	}

	var orders []OrderRecord
	if err := s.db.Order("submitted asc").Find(&orders).Error; err != nil {
		return nil, err
	}
	for _, rec := range orders {
		snap.Orders = append(snap.Orders, types.Order{
			OrderID:    rec.OrderID,
			AgentID:    rec.AgentID,
			Ticker:     rec.Ticker,
			Side:       types.Side(rec.Side),
			Quantity:   rec.Quantity,
			LimitPrice: types.Amount(rec.LimitPriceCents),
			Submitted:  rec.Submitted,
			Status:     types.OrderStatus(rec.Status),
			Remaining:  rec.Remaining,
			CreatedAt:  rec.SubmittedAt,
		})
	}

	var meta MetaRecord
	if err := s.db.Where("key = ?", metaTickKey).First(&meta).Error; err == nil {
		if tick, err := strconv.ParseUint(meta.Value, 10, 64); err == nil {
			snap.Tick = tick
		}
	}
	return snap, nil
}
