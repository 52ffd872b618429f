package gateway

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourorg/holdings-ledger/internal/domain"
	"github.com/yourorg/holdings-ledger/internal/ledger"
)

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Currency string `json:"currency" validate:"omitempty,oneof=TWD USD"`
	TimeZone string `json:"time_zone" validate:"omitempty,timezone"`
}

type createUserResponse struct {
	User      *domain.User      `json:"user"`
	Portfolio *domain.Portfolio `json:"portfolio"`
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u := &domain.User{
		Username: req.Username,
		Email:    req.Email,
		Currency: domain.CurrencyTWD,
		TimeZone: "UTC",
	}
	if req.Currency != "" {
		u.Currency = domain.Currency(req.Currency)
	}
	if req.TimeZone != "" {
		u.TimeZone = req.TimeZone
	}

	portfolio, err := h.users.CreateWithPortfolio(r.Context(), u)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "username or email already registered")
			return
		}
		h.internalError(w, r, err)
		return
	}
	h.logger.Info("user created", "user_id", u.ID, "portfolio_id", portfolio.ID)
	writeJSON(w, http.StatusCreated, createUserResponse{User: u, Portfolio: portfolio})
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if u == nil {
		writeUserNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handlers) GetUserByEmail(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := h.validate.Var(email, "required,email"); err != nil {
		writeValidationError(w, "invalid email")
		return
	}
	u, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if u == nil {
		writeUserNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateUser replaces the user's profile. Omitted currency and time
// zone keep their stored values.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if u == nil {
		writeUserNotFound(w)
		return
	}
	u.Username = req.Username
	u.Email = req.Email
	if req.Currency != "" {
		u.Currency = domain.Currency(req.Currency)
	}
	if req.TimeZone != "" {
		u.TimeZone = req.TimeZone
	}

	switch err := h.users.Update(r.Context(), u); {
	case errors.Is(err, domain.ErrNotFound):
		writeUserNotFound(w)
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "username or email already registered")
	case err != nil:
		h.internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, u)
	}
}

// DeleteUser removes the user and its portfolio. Users with recorded
// position events are refused.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	switch err := h.users.Delete(r.Context(), id); {
	case errors.Is(err, domain.ErrNotFound):
		writeUserNotFound(w)
	case errors.Is(err, domain.ErrInUse):
		writeError(w, http.StatusConflict, "user still has position events")
	case err != nil:
		h.internalError(w, r, err)
	default:
		h.logger.Info("user deleted", "user_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeUserNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "user not found", ErrorType: string(ledger.KindUserNotFound)})
}

type createStockRequest struct {
	Name     string          `json:"name" validate:"required,max=100"`
	Alias    string          `json:"alias" validate:"max=50"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency" validate:"required,oneof=TWD USD"`
}

func (h *Handlers) CreateStock(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Price.IsNegative() {
		writeValidationError(w, "price must not be negative")
		return
	}
	s := &domain.Stock{
		Name:     req.Name,
		Alias:    req.Alias,
		Price:    req.Price,
		Currency: domain.Currency(req.Currency),
	}
	if err := h.stocks.Create(r.Context(), s); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handlers) ListStocksMinimal(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.stocks.ListMinimal(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stocks)
}

type updatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type updatePriceResponse struct {
	StockID  string          `json:"stock_id"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

func (h *Handlers) UpdateStockPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updatePriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Price.IsPositive() {
		writeValidationError(w, "price must be positive")
		return
	}
	old, err := h.stocks.UpdatePrice(r.Context(), id, req.Price)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "stock not found", ErrorType: string(ledger.KindStockNotFound)})
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updatePriceResponse{StockID: id.String(), OldPrice: old, NewPrice: req.Price})
}

type batchPriceRequest struct {
	Updates []struct {
		StockID string          `json:"stock_id"`
		Price   decimal.Decimal `json:"price"`
	} `json:"updates" validate:"required,min=1,max=20"`
}

type batchPriceResponse struct {
	UpdatedStocks []domain.PriceChange `json:"updated_stocks"`
	NotFoundIDs   []uuid.UUID          `json:"not_found_ids"`
	InvalidIDs    []string             `json:"invalid_ids"`
}

// UpdateStockPrices applies up to 20 prices. Malformed
// and unknown ids are reported back instead of failing the batch.
func (h *Handlers) UpdateStockPrices(w http.ResponseWriter, r *http.Request) {
	var req batchPriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp := batchPriceResponse{InvalidIDs: []string{}}
	updates := make([]domain.PriceUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		if !u.Price.IsPositive() {
			writeValidationError(w, "every price must be positive")
			return
		}
		id, err := uuid.Parse(u.StockID)
		if err != nil {
			resp.InvalidIDs = append(resp.InvalidIDs, u.StockID)
			continue
		}
		updates = append(updates, domain.PriceUpdate{StockID: id, Price: u.Price})
	}

	resp.UpdatedStocks, resp.NotFoundIDs = []domain.PriceChange{}, []uuid.UUID{}
	if len(updates) > 0 {
		changed, missing, err := h.stocks.UpdatePrices(r.Context(), updates)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		resp.UpdatedStocks, resp.NotFoundIDs = changed, missing
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.portfolios.List(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolios)
}

func (h *Handlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.portfolios.GetByID(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if p == nil {
		writePortfolioNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) GetPortfolioByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	p, err := h.portfolios.FindByUserID(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if p == nil {
		writePortfolioNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writePortfolioNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "portfolio not found", ErrorType: string(ledger.KindPortfolioNotFound)})
}
