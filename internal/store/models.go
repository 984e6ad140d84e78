package store

import (
	"time"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// TradeStatus is the lifecycle state of an executed trade.
type TradeStatus string

// Trade statuses.
const (
	TradeOpen     TradeStatus = "OPEN"
	TradeWon      TradeStatus = "WON"
	TradeLost     TradeStatus = "LOST"
	TradeCanceled TradeStatus = "CANCELED"
)

// PendingStatus is the lifecycle state of a queued trade.
type PendingStatus string

// Pending trade statuses.
const (
	PendingPending  PendingStatus = "PENDING"
	PendingApproved PendingStatus = "APPROVED"
	PendingRejected PendingStatus = "REJECTED"
	PendingExpired  PendingStatus = "EXPIRED"
	PendingExecuted PendingStatus = "EXECUTED"
)

// Trade is the durable record of an executed order. Settlement fields are
// written once, by the settlement engine, together with the OPEN→WON|LOST
// transition.
type Trade struct {
	ID                string
	UserID            string
	OrderID           string
	City              domain.City
	TradeDate         time.Time
	Ticker            string
	Bracket           string
	Side              domain.Side
	PriceCents        int
	Quantity          int
	ModelProbability  float64
	MarketProbability float64
	EVAtEntry         float64
	Confidence        string
	Status            TradeStatus
	PnlCents          int64
	FeesCents         int64
	SettlementTempF   *float64
	SettlementSource  string
	Narrative         string
	CreatedAt         time.Time
	SettledAt         *time.Time
}

// CostCents returns the capital at risk for the trade.
func (t *Trade) CostCents() int64 {
	return int64(t.Quantity) * int64(domain.CostPerContract(t.PriceCents, t.Side))
}

// PendingTrade is a queued signal awaiting user action in manual mode.
// ActedAt is set exactly when the row leaves PENDING.
type PendingTrade struct {
	ID                string
	UserID            string
	City              domain.City
	Ticker            string
	Bracket           string
	Side              domain.Side
	PriceCents        int
	Quantity          int
	ModelProbability  float64
	MarketProbability float64
	EV                float64
	Confidence        string
	Status            PendingStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ActedAt           *time.Time
}

// DailyRiskState holds the per-(user, ET trading day) mutable counters the
// risk and cooldown managers share.
type DailyRiskState struct {
	UserID             string
	TradingDay         string // YYYY-MM-DD in Eastern Time
	TotalExposureCents int64
	RealizedPnlCents   int64
	TradesCount        int
	ConsecutiveLosses  int
	CooldownUntil      *time.Time
}

// SettlementRecord is the observed outcome for one (city, date).
type SettlementRecord struct {
	City      domain.City
	Date      string // YYYY-MM-DD
	HighTempF float64
	Source    string
	CreatedAt time.Time
}

// ForecastError is one historical (forecast, actual) pair feeding the
// sigma calibration query.
type ForecastError struct {
	Source    string
	City      domain.City
	Date      string // YYYY-MM-DD
	ForecastF float64
	ActualF   float64
}
