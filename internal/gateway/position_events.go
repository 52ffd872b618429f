package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/yourorg/holdings-ledger/internal/domain"
	"github.com/yourorg/holdings-ledger/internal/ledger"
)

type createEventRequest struct {
	OperationID     string          `json:"operation_id" validate:"required,max=128"`
	UserID          string          `json:"user_id" validate:"required,uuid"`
	StockID         string          `json:"stock_id" validate:"required,uuid"`
	Type            string          `json:"type" validate:"required,oneof=BUY SELL REPLACE"`
	TradeAt         time.Time       `json:"trade_at" validate:"required"`
	QuantityBefore  decimal.Decimal `json:"quantity_before"`
	QuantityAfter   decimal.Decimal `json:"quantity_after"`
	QuantityDelta   decimal.Decimal `json:"quantity_delta"`
	TotalCostBefore decimal.Decimal `json:"total_cost_before"`
	TotalCostAfter  decimal.Decimal `json:"total_cost_after"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Currency        string          `json:"currency" validate:"required,oneof=TWD USD"`
	Source          string          `json:"source" validate:"max=64"`
	AppVersion      string          `json:"app_version" validate:"max=32"`
}

func (req createEventRequest) toLedger() ledger.CreateRequest {
	return ledger.CreateRequest{
		OperationID:     req.OperationID,
		UserID:          req.UserID,
		StockID:         req.StockID,
		Type:            domain.EventType(req.Type),
		TradeAt:         req.TradeAt,
		QuantityBefore:  req.QuantityBefore,
		QuantityAfter:   req.QuantityAfter,
		QuantityDelta:   req.QuantityDelta,
		TotalCostBefore: req.TotalCostBefore,
		TotalCostAfter:  req.TotalCostAfter,
		UnitPrice:       req.UnitPrice,
		Currency:        domain.Currency(req.Currency),
		Source:          req.Source,
		AppVersion:      req.AppVersion,
	}
}

type updateEventRequest struct {
	QuantityBefore  *decimal.Decimal `json:"quantity_before"`
	QuantityAfter   *decimal.Decimal `json:"quantity_after"`
	QuantityDelta   *decimal.Decimal `json:"quantity_delta"`
	TotalCostBefore *decimal.Decimal `json:"total_cost_before"`
	TotalCostAfter  *decimal.Decimal `json:"total_cost_after"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
}

func (req updateEventRequest) toPatch() ledger.Patch {
	return ledger.Patch(req)
}

func (h *Handlers) CreatePositionEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	event, err := h.commands.Create(r.Context(), req.toLedger())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/positionevents/"+event.ID.String())
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handlers) UpdatePositionEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	event, err := h.commands.Update(r.Context(), id, req.toPatch())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) DeletePositionEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.commands.Delete(r.Context(), id); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetPositionEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	event, err := h.queries.Get(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) GetPositionEventByOperationID(w http.ResponseWriter, r *http.Request) {
	event, err := h.queries.GetByOperationID(r.Context(), chi.URLParam(r, "operationId"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) ListPositionEvents(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	page, err := h.queries.List(r.Context(), p)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handlers) ListPositionEventsByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	page, err := h.queries.ListByUser(r.Context(), userID, f)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handlers) ListPositionEventsByStock(w http.ResponseWriter, r *http.Request) {
	stockID, ok := pathUUID(w, r, "stockId")
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	page, err := h.queries.ListByStock(r.Context(), stockID, f)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parsePagination(r *http.Request) (ledger.Pagination, error) {
	var p ledger.Pagination
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid page %q", v)
		}
		if n > ledger.MaxPage {
			return p, fmt.Errorf("page must not exceed %d", ledger.MaxPage)
		}
		p.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid page_size %q", v)
		}
		p.PageSize = n
	}
	return p, nil
}

func parseFilter(r *http.Request) (ledger.Filter, error) {
	p, err := parsePagination(r)
	if err != nil {
		return ledger.Filter{}, err
	}
	f := ledger.Filter{Pagination: p}
	q := r.URL.Query()

	if v := q.Get("type"); v != "" {
		t := domain.EventType(v)
		if !t.Valid() {
			return f, fmt.Errorf("invalid event type %q", v)
		}
		f.Type = &t
	}
	if v := q.Get("start_date"); v != "" {
		start, _, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid start_date %q", v)
		}
		f.StartDate = &start
	}
	if v := q.Get("end_date"); v != "" {
		end, dateOnly, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid end_date %q", v)
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		f.EndDate = &end
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return f, errors.New("start_date must not be after end_date")
	}
	return f, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC).
func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	return t, true, err
}
