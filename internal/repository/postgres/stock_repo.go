package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

type StockRepo struct {
	db *sqlx.DB
}

func NewStockRepo(db *sqlx.DB) *StockRepo {
	return &StockRepo{db: db}
}

func (r *StockRepo) Create(ctx context.Context, s *domain.Stock) error {
	s.ID = uuid.New()
	s.LastUpdated = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO stocks (id, name, alias, price, currency, last_updated)
		VALUES (:id, :name, :alias, :price, :currency, :last_updated)`, s)
	if err != nil {
		return fmt.Errorf("insert stock: %w", err)
	}
	return nil
}

func (r *StockRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Stock, error) {
	var s domain.Stock
	err := r.db.GetContext(ctx, &s, `SELECT * FROM stocks WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load stock: %w", err)
	}
	return &s, nil
}

func (r *StockRepo) ListMinimal(ctx context.Context) ([]domain.StockSummary, error) {
	stocks := []domain.StockSummary{}
	if err := r.db.SelectContext(ctx, &stocks, `SELECT id, name, alias FROM stocks ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	return stocks, nil
}

// UpdatePrice sets the stock's price and returns the price it replaced.
// It fails with domain.ErrNotFound when the stock does not exist.
func (r *StockRepo) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (decimal.Decimal, error) {
	return updatePrice(ctx, r.db, id, price)
}

// UpdatePrices applies every update in one transaction. Unknown stocks
// are reported in missing and do not abort the rest.
func (r *StockRepo) UpdatePrices(ctx context.Context, updates []domain.PriceUpdate) (changed []domain.PriceChange, missing []uuid.UUID, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	changed = []domain.PriceChange{}
	missing = []uuid.UUID{}
	for _, u := range updates {
		old, err := updatePrice(ctx, tx, u.StockID, u.Price)
		if errors.Is(err, domain.ErrNotFound) {
			missing = append(missing, u.StockID)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		changed = append(changed, domain.PriceChange{StockID: u.StockID, OldPrice: old, NewPrice: u.Price})
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return changed, missing, nil
}

func updatePrice(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, price decimal.Decimal) (decimal.Decimal, error) {
	var old decimal.Decimal
	err := sqlx.GetContext(ctx, q, &old, `
		UPDATE stocks s SET price = $1, last_updated = NOW()
		FROM (SELECT id, price FROM stocks WHERE id = $2 FOR UPDATE) prev
		WHERE s.id = prev.id
		RETURNING prev.price`, price, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, domain.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("update stock price: %w", err)
	}
	return old, nil
}

func (r *StockRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return exists(ctx, r.db, "stocks", id)
}
