package gateway

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/yourorg/holdings-ledger/internal/domain"
	"github.com/yourorg/holdings-ledger/internal/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockCommands struct {
	mock.Mock
}

func (m *MockCommands) Create(ctx context.Context, req ledger.CreateRequest) (*domain.PositionEvent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PositionEvent), args.Error(1)
}

func (m *MockCommands) Update(ctx context.Context, id uuid.UUID, patch ledger.Patch) (*domain.PositionEvent, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PositionEvent), args.Error(1)
}

func (m *MockCommands) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockQueries struct {
	mock.Mock
}

func (m *MockQueries) Get(ctx context.Context, id uuid.UUID) (*domain.PositionEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PositionEvent), args.Error(1)
}

func (m *MockQueries) GetByOperationID(ctx context.Context, operationID string) (*domain.PositionEvent, error) {
	args := m.Called(ctx, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PositionEvent), args.Error(1)
}

func (m *MockQueries) page(args mock.Arguments) (*ledger.Page[domain.PositionEvent], error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Page[domain.PositionEvent]), args.Error(1)
}

func (m *MockQueries) List(ctx context.Context, p ledger.Pagination) (*ledger.Page[domain.PositionEvent], error) {
	return m.page(m.Called(ctx, p))
}

func (m *MockQueries) ListByUser(ctx context.Context, userID uuid.UUID, f ledger.Filter) (*ledger.Page[domain.PositionEvent], error) {
	return m.page(m.Called(ctx, userID, f))
}

func (m *MockQueries) ListByStock(ctx context.Context, stockID uuid.UUID, f ledger.Filter) (*ledger.Page[domain.PositionEvent], error) {
	return m.page(m.Called(ctx, stockID, f))
}

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) CreateWithPortfolio(ctx context.Context, u *domain.User) (*domain.Portfolio, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Portfolio), args.Error(1)
}

func (m *MockUsers) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUsers) Update(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *MockUsers) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUsers) List(ctx context.Context) ([]domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.User), args.Error(1)
}

type MockStocks struct {
	mock.Mock
}

func (m *MockStocks) Create(ctx context.Context, s *domain.Stock) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStocks) ListMinimal(ctx context.Context) ([]domain.StockSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StockSummary), args.Error(1)
}

func (m *MockStocks) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, id, price)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockStocks) UpdatePrices(ctx context.Context, updates []domain.PriceUpdate) ([]domain.PriceChange, []uuid.UUID, error) {
	args := m.Called(ctx, updates)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]domain.PriceChange), args.Get(1).([]uuid.UUID), args.Error(2)
}

type MockPortfolios struct {
	mock.Mock
}

func (m *MockPortfolios) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Portfolio, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Portfolio), args.Error(1)
}

func (m *MockPortfolios) GetByID(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Portfolio), args.Error(1)
}

func (m *MockPortfolios) List(ctx context.Context) ([]domain.Portfolio, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Portfolio), args.Error(1)
}
