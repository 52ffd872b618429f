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

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateWithPortfolio stores u and its empty portfolio in one
// transaction. A taken username or email fails with domain.ErrAlreadyExists.
func (r *UserRepo) CreateWithPortfolio(ctx context.Context, u *domain.User) (*domain.Portfolio, error) {
	u.ID = uuid.New()
	u.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, currency, time_zone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.Currency, u.TimeZone, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", u.Username, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	p := &domain.Portfolio{UserID: u.ID, LastUpdated: u.CreatedAt}
	if err := insertPortfolio(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, `SELECT * FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT * FROM users WHERE email = $1`, email)
}

func (r *UserRepo) findOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// Update overwrites the profile fields of u. created_at is kept.
func (r *UserRepo) Update(ctx context.Context, u *domain.User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET username = $1, email = $2, currency = $3, time_zone = $4
		WHERE id = $5`,
		u.Username, u.Email, u.Currency, u.TimeZone, u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(res)
}

// Delete removes the user; the portfolio row goes with it. A user that
// still has position events fails with domain.ErrInUse.
func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("user %s: %w", id, domain.ErrInUse)
		}
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res)
}

func (r *UserRepo) List(ctx context.Context) ([]domain.User, error) {
	users := []domain.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *UserRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return exists(ctx, r.db, "users", id)
}

func exists(ctx context.Context, db *sqlx.DB, table string, id uuid.UUID) (bool, error) {
	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := db.GetContext(ctx, &ok, query, id); err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return ok, nil
}
