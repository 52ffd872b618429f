package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

// A NULL version reads as 0 so the first conditional write can match it.
const portfolioColumns = `id, user_id, stocks, last_updated, COALESCE(version, 0) AS version`

type PortfolioRepo struct {
	db *sqlx.DB
}

func NewPortfolioRepo(db *sqlx.DB) *PortfolioRepo {
	return &PortfolioRepo{db: db}
}

func (r *PortfolioRepo) Create(ctx context.Context, p *domain.Portfolio) error {
	return insertPortfolio(ctx, r.db, p)
}

func (r *PortfolioRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, p *domain.Portfolio) error {
	return insertPortfolio(ctx, tx, p)
}

func insertPortfolio(ctx context.Context, db sqlx.ExecerContext, p *domain.Portfolio) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Stocks == nil {
		p.Stocks = domain.StockList{}
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO portfolios (id, user_id, stocks, last_updated)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.UserID, p.Stocks, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

func (r *PortfolioRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	return r.findOne(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
}

func (r *PortfolioRepo) List(ctx context.Context) ([]domain.Portfolio, error) {
	portfolios := []domain.Portfolio{}
	err := r.db.SelectContext(ctx, &portfolios, `SELECT `+portfolioColumns+` FROM portfolios ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	return portfolios, nil
}

func (r *PortfolioRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Portfolio, error) {
	return r.findOne(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE user_id = $1 LIMIT 1`, userID)
}

func (r *PortfolioRepo) findOne(ctx context.Context, query string, arg any) (*domain.Portfolio, error) {
	var p domain.Portfolio
	err := r.db.GetContext(ctx, &p, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	return &p, nil
}

// UpdateIfVersion replaces the stock list only while the stored version
// still equals expected. It returns the number of matched rows, so 0
// means another writer got there first.
func (r *PortfolioRepo) UpdateIfVersion(ctx context.Context, id uuid.UUID, expected uint64, stocks domain.StockList, lastUpdated time.Time, newVersion uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolios
		SET stocks = $1, last_updated = $2, version = $3
		WHERE id = $4 AND COALESCE(version, 0) = $5`,
		stocks, lastUpdated, int64(newVersion), id, int64(expected))
	if err != nil {
		return 0, fmt.Errorf("update portfolio: %w", err)
	}
	return res.RowsAffected()
}
