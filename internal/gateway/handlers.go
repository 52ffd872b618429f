package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourorg/holdings-ledger/internal/domain"
	"github.com/yourorg/holdings-ledger/internal/ledger"
)

type EventCommands interface {
	Create(ctx context.Context, req ledger.CreateRequest) (*domain.PositionEvent, error)
	Update(ctx context.Context, id uuid.UUID, patch ledger.Patch) (*domain.PositionEvent, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type EventQueries interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PositionEvent, error)
	GetByOperationID(ctx context.Context, operationID string) (*domain.PositionEvent, error)
	List(ctx context.Context, p ledger.Pagination) (*ledger.Page[domain.PositionEvent], error)
	ListByUser(ctx context.Context, userID uuid.UUID, f ledger.Filter) (*ledger.Page[domain.PositionEvent], error)
	ListByStock(ctx context.Context, stockID uuid.UUID, f ledger.Filter) (*ledger.Page[domain.PositionEvent], error)
}

type UserStore interface {
	CreateWithPortfolio(ctx context.Context, u *domain.User) (*domain.Portfolio, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type StockStore interface {
	Create(ctx context.Context, s *domain.Stock) error
	ListMinimal(ctx context.Context) ([]domain.StockSummary, error)
	UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (decimal.Decimal, error)
	UpdatePrices(ctx context.Context, updates []domain.PriceUpdate) ([]domain.PriceChange, []uuid.UUID, error)
}

// PortfolioReader is read-only; portfolios change only through the
// ledger.
type PortfolioReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Portfolio, error)
	List(ctx context.Context) ([]domain.Portfolio, error)
}

type Handlers struct {
	commands   EventCommands
	queries    EventQueries
	users      UserStore
	stocks     StockStore
	portfolios PortfolioReader
	health     *HealthChecker
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewHandlers(
	commands EventCommands,
	queries EventQueries,
	users UserStore,
	stocks StockStore,
	portfolios PortfolioReader,
	health *HealthChecker,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		commands:   commands,
		queries:    queries,
		users:      users,
		stocks:     stocks,
		portfolios: portfolios,
		health:     health,
		validate:   newValidator(),
		logger:     logger,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

// decode reads a JSON body into dst and runs struct validation on it.
// It writes the 400 response itself and reports whether to continue.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidationError(w, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			writeValidationError(w, strings.Join(msgs, "; "))
			return false
		}
		writeValidationError(w, err.Error())
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("invalid %s format", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// pathUUID parses a uuid path parameter, writing a 400 when malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeValidationError(w, fmt.Sprintf("invalid %s format", name))
		return uuid.Nil, false
	}
	return id, true
}

func statusOf(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.KindValidationFailed:
		return http.StatusBadRequest
	case ledger.KindDuplicateOperationID, ledger.KindConcurrencyConflict:
		return http.StatusConflict
	case ledger.KindNotFound, ledger.KindUserNotFound, ledger.KindStockNotFound, ledger.KindPortfolioNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	code := statusOf(kind)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Error: msg, ErrorType: string(kind)})
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, ErrorType: string(ledger.KindValidationFailed)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
