package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PortfolioStock struct {
	StockID  uuid.UUID       `json:"stock_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// StockList is stored as a JSON document column.
type StockList []PortfolioStock

func (l StockList) Value() (driver.Value, error) {
	if l == nil {
		l = StockList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StockList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StockList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("stock list: unsupported source type %T", src)
	}
	var out StockList
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("stock list: %w", err)
	}
	if out == nil {
		out = StockList{}
	}
	*l = out
	return nil
}

type Portfolio struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	UserID      uuid.UUID `db:"user_id"      json:"user_id"`
	Stocks      StockList `db:"stocks"       json:"stocks"`
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
	Version     uint64    `db:"version"      json:"version"`
}

// Clone returns a copy whose stock list can be mutated without touching p.
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Stocks = make(StockList, len(p.Stocks))
	copy(c.Stocks, p.Stocks)
	return &c
}

// Quantity returns the held quantity of stockID, zero when not held.
func (p *Portfolio) Quantity(stockID uuid.UUID) decimal.Decimal {
	for _, s := range p.Stocks {
		if s.StockID == stockID {
			return s.Quantity
		}
	}
	return decimal.Zero
}

// SetQuantity sets the absolute quantity held for stockID. A zero
// quantity removes the entry; entries are never kept at zero.
func (p *Portfolio) SetQuantity(stockID uuid.UUID, qty decimal.Decimal) {
	idx := -1
	for i, s := range p.Stocks {
		if s.StockID == stockID {
			idx = i
			break
		}
	}
	switch {
	case qty.IsZero():
		if idx >= 0 {
			p.Stocks = append(p.Stocks[:idx], p.Stocks[idx+1:]...)
		}
	case idx < 0:
		p.Stocks = append(p.Stocks, PortfolioStock{StockID: stockID, Quantity: qty})
	default:
		p.Stocks[idx].Quantity = qty
	}
}
