package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

// quantity_before is NULL on events written before the column existed.
const eventColumns = `id, operation_id, user_id, stock_id, type, trade_at, created_at,
	COALESCE(quantity_before, 0) AS quantity_before, quantity_after, quantity_delta,
	total_cost_before, total_cost_after, unit_price, currency, source, app_version`

type EventRepo struct {
	db *sqlx.DB
}

func NewEventRepo(db *sqlx.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.PositionEvent, error) {
	return r.findOne(ctx, `SELECT `+eventColumns+` FROM position_events WHERE id = $1`, id)
}

func (r *EventRepo) FindByOperationID(ctx context.Context, operationID string) (*domain.PositionEvent, error) {
	return r.findOne(ctx, `SELECT `+eventColumns+` FROM position_events WHERE operation_id = $1`, operationID)
}

func (r *EventRepo) findOne(ctx context.Context, query string, arg any) (*domain.PositionEvent, error) {
	var e domain.PositionEvent
	err := r.db.GetContext(ctx, &e, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *EventRepo) Insert(ctx context.Context, e *domain.PositionEvent) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO position_events (
			id, operation_id, user_id, stock_id, type, trade_at, created_at,
			quantity_before, quantity_after, quantity_delta,
			total_cost_before, total_cost_after, unit_price, currency, source, app_version)
		VALUES (
			:id, :operation_id, :user_id, :stock_id, :type, :trade_at, :created_at,
			:quantity_before, :quantity_after, :quantity_delta,
			:total_cost_before, :total_cost_after, :unit_price, :currency, :source, :app_version)`, e)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert position event %q: %w", e.OperationID, domain.ErrDuplicateOperationID)
		}
		return fmt.Errorf("insert position event: %w", err)
	}
	return nil
}

func (r *EventRepo) Replace(ctx context.Context, e *domain.PositionEvent) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE position_events SET
			quantity_before   = :quantity_before,
			quantity_after    = :quantity_after,
			quantity_delta    = :quantity_delta,
			total_cost_before = :total_cost_before,
			total_cost_after  = :total_cost_after,
			unit_price        = :unit_price
		WHERE id = :id`, e)
	if err != nil {
		return fmt.Errorf("update position event: %w", err)
	}
	return requireRow(res)
}

func (r *EventRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM position_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete position event: %w", err)
	}
	return requireRow(res)
}

func (r *EventRepo) List(ctx context.Context, f domain.EventFilter, skip, limit int) ([]domain.PositionEvent, error) {
	where, args := eventWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM position_events%s ORDER BY trade_at DESC, id OFFSET $%d LIMIT $%d`,
		eventColumns, where, len(args)+1, len(args)+2)
	events := []domain.PositionEvent{}
	if err := r.db.SelectContext(ctx, &events, query, append(args, skip, limit)...); err != nil {
		return nil, fmt.Errorf("list position events: %w", err)
	}
	return events, nil
}

func (r *EventRepo) Count(ctx context.Context, f domain.EventFilter) (int, error) {
	where, args := eventWhere(f)
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM position_events`+where, args...); err != nil {
		return 0, fmt.Errorf("count position events: %w", err)
	}
	return n, nil
}

// eventWhere renders f as a WHERE clause with positional parameters.
// The date window is inclusive at both ends.
func eventWhere(f domain.EventFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.StockID != nil {
		add("stock_id = $%d", *f.StockID)
	}
	if f.Type != nil {
		add("type = $%d", string(*f.Type))
	}
	if f.From != nil {
		add("trade_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("trade_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
