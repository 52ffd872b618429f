package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *Handlers, hub *Hub, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/", h.ListUsers)
			r.Get("/by-email/{email}", h.GetUserByEmail)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
			r.Delete("/{id}", h.DeleteUser)
		})

		r.Route("/stocks", func(r chi.Router) {
			r.Post("/", h.CreateStock)
			r.Get("/minimal", h.ListStocksMinimal)
			r.Put("/batch-price", h.UpdateStockPrices)
			r.Put("/{id}/price", h.UpdateStockPrice)
		})

		r.Route("/portfolios", func(r chi.Router) {
			r.Get("/", h.ListPortfolios)
			r.Get("/user/{userId}", h.GetPortfolioByUser)
			r.Get("/{id}", h.GetPortfolio)
		})

		r.Route("/positionevents", func(r chi.Router) {
			r.Get("/", h.ListPositionEvents)
			r.Post("/", h.CreatePositionEvent)
			r.Get("/operation/{operationId}", h.GetPositionEventByOperationID)
			r.Get("/user/{userId}", h.ListPositionEventsByUser)
			r.Get("/stock/{stockId}", h.ListPositionEventsByStock)
			r.Get("/{id}", h.GetPositionEvent)
			r.Put("/{id}", h.UpdatePositionEvent)
			r.Delete("/{id}", h.DeletePositionEvent)
		})
	})

	if hub != nil {
		r.Get("/ws", ServeWS(hub, h.logger))
	}

	return r
}
