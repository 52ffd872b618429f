package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

// memEvents is an in-memory EventStore with a unique operation id.
type memEvents struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]domain.PositionEvent
	insertErr error
	// afterFind runs once FindByID has read the event, outside the lock.
	afterFind func(id uuid.UUID)
}

func newMemEvents() *memEvents {
	return &memEvents{byID: make(map[uuid.UUID]domain.PositionEvent)}
}

func (m *memEvents) FindByID(_ context.Context, id uuid.UUID) (*domain.PositionEvent, error) {
	m.mu.Lock()
	e, ok := m.byID[id]
	hook := m.afterFind
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if hook != nil {
		hook(id)
	}
	return &e, nil
}

func (m *memEvents) FindByOperationID(_ context.Context, operationID string) (*domain.PositionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if e.OperationID == operationID {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memEvents) Insert(_ context.Context, e *domain.PositionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, existing := range m.byID {
		if existing.OperationID == e.OperationID {
			return domain.ErrDuplicateOperationID
		}
	}
	m.byID[e.ID] = *e
	return nil
}

func (m *memEvents) Replace(_ context.Context, e *domain.PositionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[e.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[e.ID] = *e
	return nil
}

func (m *memEvents) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memEvents) matching(f domain.EventFilter) []domain.PositionEvent {
	var out []domain.PositionEvent
	for _, e := range m.byID {
		if f.UserID != nil && e.UserID != *f.UserID {
			continue
		}
		if f.StockID != nil && e.StockID != *f.StockID {
			continue
		}
		if f.Type != nil && e.Type != *f.Type {
			continue
		}
		if f.From != nil && e.TradeAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.TradeAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeAt.After(out[j].TradeAt) })
	return out
}

func (m *memEvents) List(_ context.Context, f domain.EventFilter, skip, limit int) ([]domain.PositionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(f)
	if skip >= len(all) {
		return nil, nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	return all[skip:end], nil
}

func (m *memEvents) Count(_ context.Context, f domain.EventFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matching(f)), nil
}

func (m *memEvents) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memPortfolios is an in-memory PortfolioStore with version
// compare-and-swap. beforeUpdate runs inside UpdateIfVersion before the
// version check and may bump the stored version to force a conflict.
type memPortfolios struct {
	mu           sync.Mutex
	byUser       map[uuid.UUID]*domain.Portfolio
	beforeUpdate func(p *domain.Portfolio)
	updateCalls  int
}

func newMemPortfolios(ps ...*domain.Portfolio) *memPortfolios {
	m := &memPortfolios{byUser: make(map[uuid.UUID]*domain.Portfolio)}
	for _, p := range ps {
		m.byUser[p.UserID] = p
	}
	return m
}

func (m *memPortfolios) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (m *memPortfolios) UpdateIfVersion(_ context.Context, id uuid.UUID, expected uint64, stocks domain.StockList, lastUpdated time.Time, newVersion uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	for _, p := range m.byUser {
		if p.ID != id {
			continue
		}
		if m.beforeUpdate != nil {
			m.beforeUpdate(p)
		}
		if p.Version != expected {
			return 0, nil
		}
		p.Stocks = append(domain.StockList{}, stocks...)
		p.LastUpdated = lastUpdated
		p.Version = newVersion
		return 1, nil
	}
	return 0, nil
}

func (m *memPortfolios) get(userID uuid.UUID) *domain.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUser[userID].Clone()
}

type existSet map[uuid.UUID]bool

func (s existSet) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return s[id], nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []domain.PortfolioChange
	err     error
}

func (n *recordingNotifier) Publish(_ context.Context, c domain.PortfolioChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

// MockEventStore is a testify mock of EventStore.
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.PositionEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PositionEvent), args.Error(1)
}

func (m *MockEventStore) FindByOperationID(ctx context.Context, operationID string) (*domain.PositionEvent, error) {
	args := m.Called(ctx, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PositionEvent), args.Error(1)
}

func (m *MockEventStore) Insert(ctx context.Context, e *domain.PositionEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockEventStore) Replace(ctx context.Context, e *domain.PositionEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockEventStore) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockEventStore) List(ctx context.Context, f domain.EventFilter, skip, limit int) ([]domain.PositionEvent, error) {
	args := m.Called(ctx, f, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PositionEvent), args.Error(1)
}

func (m *MockEventStore) Count(ctx context.Context, f domain.EventFilter) (int, error) {
	args := m.Called(ctx, f)
	return args.Int(0), args.Error(1)
}

// MockPortfolioStore is a testify mock of PortfolioStore.
type MockPortfolioStore struct {
	mock.Mock
}

func (m *MockPortfolioStore) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Portfolio, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Portfolio), args.Error(1)
}

func (m *MockPortfolioStore) UpdateIfVersion(ctx context.Context, id uuid.UUID, expected uint64, stocks domain.StockList, lastUpdated time.Time, newVersion uint64) (int64, error) {
	args := m.Called(ctx, id, expected, stocks, lastUpdated, newVersion)
	return args.Get(0).(int64), args.Error(1)
}

// MockChecker is a testify mock of ExistenceChecker.
type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
