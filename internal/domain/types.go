package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBuy     EventType = "BUY"
	EventSell    EventType = "SELL"
	EventReplace EventType = "REPLACE"
)

func (t EventType) Valid() bool {
	switch t {
	case EventBuy, EventSell, EventReplace:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyTWD Currency = "TWD"
	CurrencyUSD Currency = "USD"
)

func (c Currency) Valid() bool {
	return c == CurrencyTWD || c == CurrencyUSD
}

type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Username  string    `db:"username"   json:"username"`
	Email     string    `db:"email"      json:"email"`
	Currency  Currency  `db:"currency"   json:"currency"`
	TimeZone  string    `db:"time_zone"  json:"time_zone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Stock struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	Name        string          `db:"name"         json:"name"`
	Alias       string          `db:"alias"        json:"alias"`
	Price       decimal.Decimal `db:"price"        json:"price"`
	Currency    Currency        `db:"currency"     json:"currency"`
	LastUpdated time.Time       `db:"last_updated" json:"last_updated"`
}

type StockSummary struct {
	ID    uuid.UUID `db:"id"    json:"id"`
	Name  string    `db:"name"  json:"name"`
	Alias string    `db:"alias" json:"alias"`
}

type PriceUpdate struct {
	StockID uuid.UUID
	Price   decimal.Decimal
}

type PriceChange struct {
	StockID  uuid.UUID       `json:"stock_id"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

// PositionEvent is one trade or adjustment of a user's holding in a
// single stock. Once stored it is only patched by corrections or removed
// with a compensating rollback.
type PositionEvent struct {
	ID              uuid.UUID       `db:"id"                json:"id"`
	OperationID     string          `db:"operation_id"      json:"operation_id"`
	UserID          uuid.UUID       `db:"user_id"           json:"user_id"`
	StockID         uuid.UUID       `db:"stock_id"          json:"stock_id"`
	Type            EventType       `db:"type"              json:"type"`
	TradeAt         time.Time       `db:"trade_at"          json:"trade_at"`
	CreatedAt       time.Time       `db:"created_at"        json:"created_at"`
	QuantityBefore  decimal.Decimal `db:"quantity_before"   json:"quantity_before"`
	QuantityAfter   decimal.Decimal `db:"quantity_after"    json:"quantity_after"`
	QuantityDelta   decimal.Decimal `db:"quantity_delta"    json:"quantity_delta"`
	TotalCostBefore decimal.Decimal `db:"total_cost_before" json:"total_cost_before"`
	TotalCostAfter  decimal.Decimal `db:"total_cost_after"  json:"total_cost_after"`
	UnitPrice       decimal.Decimal `db:"unit_price"        json:"unit_price"`
	Currency        Currency        `db:"currency"          json:"currency"`
	Source          string          `db:"source"            json:"source"`
	AppVersion      string          `db:"app_version"       json:"app_version"`
}

// EventFilter narrows event listings. Nil fields are not applied.
type EventFilter struct {
	UserID  *uuid.UUID
	StockID *uuid.UUID
	Type    *EventType
	From    *time.Time
	To      *time.Time
}

// PortfolioChange is published after a synchronizer mutation lands.
type PortfolioChange struct {
	UserID      uuid.UUID       `json:"user_id"`
	PortfolioID uuid.UUID       `json:"portfolio_id"`
	StockID     uuid.UUID       `json:"stock_id"`
	EventID     uuid.UUID       `json:"event_id"`
	Reason      string          `json:"reason"`
	Quantity    decimal.Decimal `json:"quantity"`
	Version     uint64          `json:"version"`
	Stocks      StockList       `json:"stocks"`
	ChangedAt   time.Time       `json:"changed_at"`
}

const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)
