package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

// ExistenceChecker reports whether an entity with the given id exists.
type ExistenceChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// EventStore persists position events. Find methods return nil, nil
// when nothing matches.
type EventStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.PositionEvent, error)
	FindByOperationID(ctx context.Context, operationID string) (*domain.PositionEvent, error)
	// Insert fails with domain.ErrDuplicateOperationID when the
	// operation id is already stored.
	Insert(ctx context.Context, e *domain.PositionEvent) error
	// Replace and Delete fail with domain.ErrNotFound when the event is gone.
	Replace(ctx context.Context, e *domain.PositionEvent) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter domain.EventFilter, skip, limit int) ([]domain.PositionEvent, error)
	Count(ctx context.Context, filter domain.EventFilter) (int, error)
}

// PortfolioStore holds the per-user aggregate.
type PortfolioStore interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Portfolio, error)
	// UpdateIfVersion writes only when the stored version equals
	// expected and returns the number of matched rows.
	UpdateIfVersion(ctx context.Context, id uuid.UUID, expected uint64, stocks domain.StockList, lastUpdated time.Time, newVersion uint64) (int64, error)
}

// ChangeNotifier receives portfolio changes after they are committed.
type ChangeNotifier interface {
	Publish(ctx context.Context, change domain.PortfolioChange) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, domain.PortfolioChange) error { return nil }
