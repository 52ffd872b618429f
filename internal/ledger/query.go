package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps Skip well inside the range of an OFFSET.
	MaxPage = 1_000_000
)

type Pagination struct {
	Page     int
	PageSize int
}

// Normalize clamps the page to [1, MaxPage] and the page size to
// (0, MaxPageSize], substituting DefaultPageSize for non-positive sizes.
func (p Pagination) Normalize() Pagination {
	switch {
	case p.Page < 1:
		p.Page = 1
	case p.Page > MaxPage:
		p.Page = MaxPage
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Pagination) Skip() int {
	return (p.Page - 1) * p.PageSize
}

// Filter narrows per-user and per-stock listings. Without dates the
// window is the twelve months up to now.
type Filter struct {
	Type      *domain.EventType
	StartDate *time.Time
	EndDate   *time.Time
	Pagination
}

type Page[T any] struct {
	Items           []T  `json:"items"`
	TotalCount      int  `json:"total_count"`
	Page            int  `json:"page"`
	PageSize        int  `json:"page_size"`
	TotalPages      int  `json:"total_pages"`
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
}

func NewPage[T any](items []T, total int, p Pagination) *Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if p.PageSize > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	return &Page[T]{
		Items:           items,
		TotalCount:      total,
		Page:            p.Page,
		PageSize:        p.PageSize,
		TotalPages:      pages,
		HasNextPage:     p.Page < pages,
		HasPreviousPage: p.Page > 1,
	}
}

// EventQuery is the read side of the ledger. Reads take no part in the
// version protocol and may run alongside writers.
type EventQuery struct {
	events EventStore
	now    func() time.Time
}

func NewEventQuery(events EventStore) *EventQuery {
	return &EventQuery{
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (q *EventQuery) Get(ctx context.Context, id uuid.UUID) (*domain.PositionEvent, error) {
	e, err := q.events.FindByID(ctx, id)
	if err != nil {
		return nil, databaseError(err, "load position event %s", id)
	}
	if e == nil {
		return nil, newError(KindNotFound, "position event %s not found", id)
	}
	return e, nil
}

func (q *EventQuery) GetByOperationID(ctx context.Context, operationID string) (*domain.PositionEvent, error) {
	e, err := q.events.FindByOperationID(ctx, operationID)
	if err != nil {
		return nil, databaseError(err, "load position event by operation id %q", operationID)
	}
	if e == nil {
		return nil, newError(KindNotFound, "position event with operation_id %q not found", operationID)
	}
	return e, nil
}

// List returns every event, newest trade first.
func (q *EventQuery) List(ctx context.Context, p Pagination) (*Page[domain.PositionEvent], error) {
	return q.page(ctx, domain.EventFilter{}, p.Normalize())
}

func (q *EventQuery) ListByUser(ctx context.Context, userID uuid.UUID, f Filter) (*Page[domain.PositionEvent], error) {
	filter := q.window(f)
	filter.UserID = &userID
	return q.page(ctx, filter, f.Pagination.Normalize())
}

func (q *EventQuery) ListByStock(ctx context.Context, stockID uuid.UUID, f Filter) (*Page[domain.PositionEvent], error) {
	filter := q.window(f)
	filter.StockID = &stockID
	return q.page(ctx, filter, f.Pagination.Normalize())
}

func (q *EventQuery) window(f Filter) domain.EventFilter {
	now := q.now()
	from := now.AddDate(-1, 0, 0)
	if f.StartDate != nil {
		from = *f.StartDate
	}
	to := now
	if f.EndDate != nil {
		to = *f.EndDate
	}
	return domain.EventFilter{Type: f.Type, From: &from, To: &to}
}

func (q *EventQuery) page(ctx context.Context, filter domain.EventFilter, p Pagination) (*Page[domain.PositionEvent], error) {
	total, err := q.events.Count(ctx, filter)
	if err != nil {
		return nil, databaseError(err, "count position events")
	}
	items, err := q.events.List(ctx, filter, p.Skip(), p.PageSize)
	if err != nil {
		return nil, databaseError(err, "list position events")
	}
	return NewPage(items, total, p), nil
}
